package tenant

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a mutex-guarded, in-memory implementation of [Store] for tests
// and single-process development setups.
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{settings: make(map[string]Settings)}
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, tenantID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = make(map[string]Settings)
	}
	if set, ok := s.settings[tenantID]; ok {
		return set, nil
	}

	logDefaulted(tenantID)
	def := Defaults(tenantID)
	s.settings[tenantID] = def
	return def, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = make(map[string]Settings)
	}
	s.settings[set.TenantID] = set
	return nil
}
