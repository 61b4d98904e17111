package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// ConfigurationStore keeps export/import configuration records in memory.
type ConfigurationStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]portal.Configuration
	now     func() time.Time
}

// NewConfigurationStore constructs a ConfigurationStore.
func NewConfigurationStore() *ConfigurationStore {
	return &ConfigurationStore{
		records: make(map[int64]portal.Configuration),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateConfiguration assigns an id and stores the record.
func (s *ConfigurationStore) CreateConfiguration(
	_ context.Context,
	cfg portal.Configuration,
) (portal.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cfg.ID = s.nextID
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = s.now()
	}
	cfg = cloneConfiguration(cfg)
	s.records[cfg.ID] = cfg
	return cloneConfiguration(cfg), nil
}

// GetConfiguration fetches a record by id.
func (s *ConfigurationStore) GetConfiguration(_ context.Context, id int64) (portal.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.records[id]
	if !ok {
		return portal.Configuration{}, fmt.Errorf("configuration %d: %w", id, portal.ErrNotFound)
	}
	return cloneConfiguration(cfg), nil
}

// Len returns the number of stored records.
func (s *ConfigurationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneConfiguration(c portal.Configuration) portal.Configuration {
	c.Settings.LayoutIDs = slices.Clone(c.Settings.LayoutIDs)
	if c.Settings.Parameters != nil {
		params := make(map[string][]string, len(c.Settings.Parameters))
		for k, v := range c.Settings.Parameters {
			params[k] = slices.Clone(v)
		}
		c.Settings.Parameters = params
	}
	return c
}
