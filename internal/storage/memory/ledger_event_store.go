package memory

import (
	"context"
	"sort"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// LedgerEventStore is an in-memory implementation of
// storage.LedgerEventStore.
type LedgerEventStore struct {
	mu     sync.RWMutex
	events []*domain.LedgerEvent
}

// NewLedgerEventStore creates a new in-memory ledger event store.
func NewLedgerEventStore() *LedgerEventStore {
	return &LedgerEventStore{}
}

// Append adds one event to the journal.
func (s *LedgerEventStore) Append(_ context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eventCopy := *e
	s.events = append(s.events, &eventCopy)
	return nil
}

// GetByPool retrieves all events of a pool, ordered by timestamp ASC.
func (s *LedgerEventStore) GetByPool(_ context.Context, poolID string) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.events {
		if e.PoolID == poolID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

// Snapshot captures the store contents for transaction rollback.
func (s *LedgerEventStore) Snapshot() func() {
	s.mu.RLock()
	saved := make([]*domain.LedgerEvent, len(s.events))
	copy(saved, s.events)
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.events = saved
		s.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)
