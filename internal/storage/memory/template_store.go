package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// TemplateStore keeps site templates in memory. Each template gets its own group id.
type TemplateStore struct {
	mu          sync.RWMutex
	nextID      int64
	nextGroupID int64
	templates   map[int64]portal.Template
	now         func() time.Time
}

// NewTemplateStore constructs a TemplateStore. Ids start above any seeded template.
func NewTemplateStore(seed ...portal.Template) *TemplateStore {
	s := &TemplateStore{
		nextID:      30000,
		nextGroupID: 40000,
		templates:   make(map[int64]portal.Template, len(seed)),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, t := range seed {
		s.put(t)
	}
	return s
}

// Put stores a template verbatim. Intended for seeding and tests.
func (s *TemplateStore) Put(t portal.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(t)
}

func (s *TemplateStore) put(t portal.Template) {
	t.Name = maps.Clone(t.Name)
	t.Description = maps.Clone(t.Description)
	s.templates[t.ID] = t
	if t.ID > s.nextID {
		s.nextID = t.ID
	}
	if t.GroupID > s.nextGroupID {
		s.nextGroupID = t.GroupID
	}
}

// ListTemplates returns the company's templates ordered by id.
func (s *TemplateStore) ListTemplates(_ context.Context, companyID int64) ([]portal.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []portal.Template
	for _, t := range s.templates {
		if t.CompanyID != companyID {
			continue
		}
		t.Name = maps.Clone(t.Name)
		t.Description = maps.Clone(t.Description)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTemplate assigns ids and stores a new template.
func (s *TemplateStore) CreateTemplate(_ context.Context, nt portal.NewTemplate) (portal.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.nextGroupID++
	t := portal.Template{
		ID:                s.nextID,
		CompanyID:         nt.CompanyID,
		GroupID:           s.nextGroupID,
		Name:              maps.Clone(nt.Name),
		Description:       maps.Clone(nt.Description),
		Active:            nt.Active,
		LayoutsUpdateable: nt.LayoutsUpdateable,
		CreatedBy:         nt.UserID,
		CreatedAt:         s.now(),
	}
	s.templates[t.ID] = t
	return t, nil
}

// GetTemplateByGroup finds the template owning a group.
func (s *TemplateStore) GetTemplateByGroup(_ context.Context, groupID int64) (portal.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates {
		if t.GroupID == groupID {
			t.Name = maps.Clone(t.Name)
			t.Description = maps.Clone(t.Description)
			return t, nil
		}
	}
	return portal.Template{}, fmt.Errorf("template for group %d: %w", groupID, portal.ErrNotFound)
}
