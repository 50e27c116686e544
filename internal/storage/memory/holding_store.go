package memory

import (
	"context"
	"sort"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// holdingKey identifies one (holder, pool) pair.
type holdingKey struct {
	holder string
	pool   string
}

// HoldingStore is an in-memory implementation of storage.HoldingStore.
type HoldingStore struct {
	mu   sync.RWMutex
	data map[holdingKey]*domain.Holding
}

// NewHoldingStore creates a new in-memory holding store.
func NewHoldingStore() *HoldingStore {
	return &HoldingStore{
		data: make(map[holdingKey]*domain.Holding),
	}
}

// cloneHolding deep-copies a holding so callers cannot mutate stored state.
func cloneHolding(h *domain.Holding) *domain.Holding {
	cp := *h
	cp.Transfers = append([]domain.TokenTransfer(nil), h.Transfers...)
	cp.Dividends = append([]domain.DividendRecord(nil), h.Dividends...)
	cp.StakingRecords = append([]domain.StakingRecord(nil), h.StakingRecords...)
	return &cp
}

// Insert adds a new holding at version 1. Returns ErrDuplicateKey if
// the (holder, pool) pair exists.
func (s *HoldingStore) Insert(_ context.Context, h *domain.Holding) error {
	if h == nil || h.HolderAddress == "" || h.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{holder: h.HolderAddress, pool: h.PoolID}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	h.Version = 1
	s.data[key] = cloneHolding(h)
	return nil
}

// Get retrieves a holding. Returns ErrNotFound if not exists.
func (s *HoldingStore) Get(_ context.Context, holderAddress, poolID string) (*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.data[holdingKey{holder: holderAddress, pool: poolID}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneHolding(h), nil
}

// Update persists a modified holding under the optimistic version check.
func (s *HoldingStore) Update(_ context.Context, h *domain.Holding) error {
	if h == nil || h.HolderAddress == "" || h.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{holder: h.HolderAddress, pool: h.PoolID}
	stored, exists := s.data[key]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != h.Version {
		return storage.ErrVersionConflict
	}

	h.Version++
	s.data[key] = cloneHolding(h)
	return nil
}

// ListByPool retrieves all holdings of a pool, ordered by holder ASC.
func (s *HoldingStore) ListByPool(_ context.Context, poolID string) ([]*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holding
	for _, h := range s.data {
		if h.PoolID == poolID {
			result = append(result, cloneHolding(h))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].HolderAddress < result[j].HolderAddress
	})
	return result, nil
}

// ListByHolder retrieves all holdings of one holder, ordered by pool_id ASC.
func (s *HoldingStore) ListByHolder(_ context.Context, holderAddress string) ([]*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holding
	for _, h := range s.data {
		if h.HolderAddress == holderAddress {
			result = append(result, cloneHolding(h))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PoolID < result[j].PoolID
	})
	return result, nil
}

// Snapshot captures the store contents for transaction rollback.
func (s *HoldingStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[holdingKey]*domain.Holding, len(s.data))
	for key, h := range s.data {
		saved[key] = cloneHolding(h)
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ storage.HoldingStore = (*HoldingStore)(nil)
