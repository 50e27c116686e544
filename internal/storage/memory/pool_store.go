package memory

import (
	"context"
	"sort"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by pool_id
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// clonePool deep-copies a pool so callers cannot mutate stored state.
func clonePool(p *domain.Pool) *domain.Pool {
	cp := *p
	cp.Assets = append([]domain.PoolAsset(nil), p.Assets...)
	cp.Investments = append([]domain.Investment(nil), p.Investments...)
	return &cp
}

// Insert adds a new pool at version 1. Returns ErrDuplicateKey if pool_id exists.
func (s *PoolStore) Insert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PoolID]; exists {
		return storage.ErrDuplicateKey
	}

	p.Version = 1
	s.data[p.PoolID] = clonePool(p)
	return nil
}

// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByID(_ context.Context, poolID string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[poolID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePool(p), nil
}

// Update persists a modified pool under the optimistic version check.
func (s *PoolStore) Update(_ context.Context, p *domain.Pool) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[p.PoolID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != p.Version {
		return storage.ErrVersionConflict
	}

	p.Version++
	s.data[p.PoolID] = clonePool(p)
	return nil
}

// ListByStatus retrieves all pools with the given status, ordered by created_at ASC.
func (s *PoolStore) ListByStatus(_ context.Context, status domain.PoolStatus) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		if p.Status == status {
			result = append(result, clonePool(p))
		}
	}
	sortPools(result)
	return result, nil
}

// List retrieves all pools, ordered by created_at ASC.
func (s *PoolStore) List(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		result = append(result, clonePool(p))
	}
	sortPools(result)
	return result, nil
}

func sortPools(pools []*domain.Pool) {
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].CreatedAt != pools[j].CreatedAt {
			return pools[i].CreatedAt < pools[j].CreatedAt
		}
		return pools[i].PoolID < pools[j].PoolID
	})
}

// Snapshot captures the store contents for transaction rollback.
func (s *PoolStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[string]*domain.Pool, len(s.data))
	for id, p := range s.data {
		saved[id] = clonePool(p)
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ storage.PoolStore = (*PoolStore)(nil)
