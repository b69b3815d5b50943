package dictionary

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type memKey struct {
	scope string
	wrong string
}

// MemStore is a mutex-guarded, in-memory implementation of [Store].
// It is suitable for tests and single-process development setups; the mutex
// plays the role the database row lock plays in [PostgresStore], so the
// atomic-upsert contract holds for concurrent goroutines.
// The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[memKey]Entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[memKey]Entry)}
}

// Upsert implements [Store.Upsert].
func (s *MemStore) Upsert(ctx context.Context, scope, wrongText, correctText string, cat Category) (Entry, error) {
	if wrongText == "" || correctText == "" {
		return Entry{}, ErrInvalidEntry
	}
	if cat != CategoryUnspecified && !cat.IsValid() {
		cat = CategoryGeneral
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[memKey]Entry)
	}

	k := memKey{scope: scope, wrong: wrongText}
	e, ok := s.entries[k]
	if !ok {
		e = Entry{
			Scope:     scope,
			WrongText: wrongText,
			Frequency: 0,
			Category:  CategoryGeneral,
		}
	}
	e.Frequency++
	e.CorrectText = correctText
	if cat != CategoryUnspecified {
		e.Category = cat
	}
	e.Active = true
	e.UpdatedAt = time.Now()
	s.entries[k] = e
	return e, nil
}

// GetCandidates implements [Store.GetCandidates].
func (s *MemStore) GetCandidates(ctx context.Context, tenantID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merged(tenantID), nil
}

// TopTerms implements [Store.TopTerms].
func (s *MemStore) TopTerms(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	merged := s.merged(tenantID)
	s.mu.RUnlock()

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Frequency != merged[j].Frequency {
			return merged[i].Frequency > merged[j].Frequency
		}
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Deactivate implements [Store.Deactivate].
func (s *MemStore) Deactivate(ctx context.Context, scope, wrongText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{scope: scope, wrong: wrongText}
	if e, ok := s.entries[k]; ok {
		e.Active = false
		e.UpdatedAt = time.Now()
		s.entries[k] = e
	}
	return nil
}

// ImportSeed implements [Store.ImportSeed].
func (s *MemStore) ImportSeed(ctx context.Context, scope string, row SeedRow) (bool, error) {
	if row.Original == "" || row.Replacement == "" {
		return false, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[memKey]Entry)
	}

	k := memKey{scope: scope, wrong: row.Original}
	e, existed := s.entries[k]
	if !existed {
		e = Entry{
			Scope:     scope,
			WrongText: row.Original,
			Frequency: 1,
			Active:    true,
		}
	}
	e.CorrectText = row.Replacement
	e.Category = NormalizeCategory(row.Category)
	e.Description = row.Description
	e.Priority = row.Priority
	e.UpdatedAt = time.Now()
	s.entries[k] = e
	return !existed, nil
}

// merged returns the active entries visible to tenantID with tenant entries
// shadowing global ones. Caller must hold at least the read lock.
func (s *MemStore) merged(tenantID string) []Entry {
	byWrong := make(map[string]Entry)
	for k, e := range s.entries {
		if !e.Active {
			continue
		}
		if k.scope != GlobalScope && k.scope != tenantID {
			continue
		}
		prev, ok := byWrong[k.wrong]
		if !ok || (prev.Scope == GlobalScope && k.scope == tenantID) {
			byWrong[k.wrong] = e
		}
	}

	out := make([]Entry, 0, len(byWrong))
	for _, e := range byWrong {
		out = append(out, e)
	}
	return out
}
