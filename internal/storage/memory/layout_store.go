package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

type layoutKey struct {
	groupID       int64
	privateLayout bool
	layoutID      int64
}

// LayoutStore keeps template layouts in memory.
type LayoutStore struct {
	mu      sync.RWMutex
	layouts map[layoutKey]portal.Layout
}

// NewLayoutStore constructs a LayoutStore with optional seed layouts.
func NewLayoutStore(seed ...portal.Layout) *LayoutStore {
	s := &LayoutStore{layouts: make(map[layoutKey]portal.Layout, len(seed))}
	for _, l := range seed {
		s.layouts[keyOf(l)] = cloneLayout(l)
	}
	return s
}

func keyOf(l portal.Layout) layoutKey {
	return layoutKey{groupID: l.GroupID, privateLayout: l.PrivateLayout, layoutID: l.LayoutID}
}

// ListLayouts returns the group's layouts ordered by layout id.
func (s *LayoutStore) ListLayouts(_ context.Context, groupID int64, privateLayout bool) ([]portal.Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []portal.Layout
	for k, l := range s.layouts {
		if k.groupID == groupID && k.privateLayout == privateLayout {
			out = append(out, cloneLayout(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LayoutID < out[j].LayoutID })
	return out, nil
}

// GetLayouts returns the requested layouts in the order given.
func (s *LayoutStore) GetLayouts(
	_ context.Context,
	groupID int64,
	privateLayout bool,
	layoutIDs []int64,
) ([]portal.Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]portal.Layout, 0, len(layoutIDs))
	for _, id := range layoutIDs {
		l, ok := s.layouts[layoutKey{groupID: groupID, privateLayout: privateLayout, layoutID: id}]
		if !ok {
			return nil, fmt.Errorf("layout %d in group %d: %w", id, groupID, portal.ErrNotFound)
		}
		out = append(out, cloneLayout(l))
	}
	return out, nil
}

// UpsertLayout inserts or overwrites a layout.
func (s *LayoutStore) UpsertLayout(_ context.Context, layout portal.Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[keyOf(layout)] = cloneLayout(layout)
	return nil
}

// DeleteLayout removes a layout. Deleting a missing layout is not an error.
func (s *LayoutStore) DeleteLayout(_ context.Context, groupID int64, privateLayout bool, layoutID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layouts, layoutKey{groupID: groupID, privateLayout: privateLayout, layoutID: layoutID})
	return nil
}

func cloneLayout(l portal.Layout) portal.Layout {
	l.Name = maps.Clone(l.Name)
	l.Settings = maps.Clone(l.Settings)
	if l.Permissions != nil {
		perms := make(map[string][]string, len(l.Permissions))
		for role, actions := range l.Permissions {
			perms[role] = slices.Clone(actions)
		}
		l.Permissions = perms
	}
	l.References = slices.Clone(l.References)
	return l
}
