package memory

import (
	"context"
	"sort"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// DistributionStore is an in-memory implementation of storage.DistributionStore.
type DistributionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DividendDistribution // keyed by distribution_id
}

// NewDistributionStore creates a new in-memory distribution store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		data: make(map[string]*domain.DividendDistribution),
	}
}

// cloneDistribution deep-copies a distribution.
func cloneDistribution(d *domain.DividendDistribution) *domain.DividendDistribution {
	cp := *d
	cp.Recipients = append([]domain.DividendRecipient(nil), d.Recipients...)
	cp.AuditTrail = append([]domain.AuditEntry(nil), d.AuditTrail...)
	return &cp
}

// Insert adds a new distribution at version 1. Returns ErrDuplicateKey
// if distribution_id exists.
func (s *DistributionStore) Insert(_ context.Context, d *domain.DividendDistribution) error {
	if d == nil || d.DistributionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DistributionID]; exists {
		return storage.ErrDuplicateKey
	}

	d.Version = 1
	s.data[d.DistributionID] = cloneDistribution(d)
	return nil
}

// GetByID retrieves a distribution. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(_ context.Context, distributionID string) (*domain.DividendDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[distributionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneDistribution(d), nil
}

// Update persists a modified distribution under the optimistic version check.
func (s *DistributionStore) Update(_ context.Context, d *domain.DividendDistribution) error {
	if d == nil || d.DistributionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[d.DistributionID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != d.Version {
		return storage.ErrVersionConflict
	}

	d.Version++
	s.data[d.DistributionID] = cloneDistribution(d)
	return nil
}

// ListByPool retrieves all distributions of a pool, ordered by created_at ASC.
func (s *DistributionStore) ListByPool(_ context.Context, poolID string) ([]*domain.DividendDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DividendDistribution
	for _, d := range s.data {
		if d.PoolID == poolID {
			result = append(result, cloneDistribution(d))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].DistributionID < result[j].DistributionID
	})
	return result, nil
}

// Snapshot captures the store contents for transaction rollback.
func (s *DistributionStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[string]*domain.DividendDistribution, len(s.data))
	for id, d := range s.data {
		saved[id] = cloneDistribution(d)
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ storage.DistributionStore = (*DistributionStore)(nil)
