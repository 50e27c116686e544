package memory

import (
	"context"
	"sort"
	"sync"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// SettlementJournalStore is an in-memory implementation of
// storage.SettlementJournalStore.
type SettlementJournalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SettlementEntry // keyed by entry_id
}

// NewSettlementJournalStore creates a new in-memory settlement journal.
func NewSettlementJournalStore() *SettlementJournalStore {
	return &SettlementJournalStore{
		data: make(map[string]*domain.SettlementEntry),
	}
}

// Insert adds a new journal entry. Returns ErrDuplicateKey if entry_id exists.
func (s *SettlementJournalStore) Insert(_ context.Context, e *domain.SettlementEntry) error {
	if e == nil || e.EntryID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EntryID]; exists {
		return storage.ErrDuplicateKey
	}

	entryCopy := *e
	s.data[e.EntryID] = &entryCopy
	return nil
}

// GetByID retrieves an entry. Returns ErrNotFound if not exists.
func (s *SettlementJournalStore) GetByID(_ context.Context, entryID string) (*domain.SettlementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[entryID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	entryCopy := *e
	return &entryCopy, nil
}

// Update overwrites an entry by its ID. Returns ErrNotFound if not exists.
func (s *SettlementJournalStore) Update(_ context.Context, e *domain.SettlementEntry) error {
	if e == nil || e.EntryID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EntryID]; !exists {
		return storage.ErrNotFound
	}

	entryCopy := *e
	s.data[e.EntryID] = &entryCopy
	return nil
}

// ListByStatus retrieves entries with the given status, ordered by created_at ASC.
func (s *SettlementJournalStore) ListByStatus(_ context.Context, status domain.SettlementStatus) ([]*domain.SettlementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SettlementEntry
	for _, e := range s.data {
		if e.Status == status {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].EntryID < result[j].EntryID
	})
	return result, nil
}

// Snapshot captures the store contents for transaction rollback.
func (s *SettlementJournalStore) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[string]*domain.SettlementEntry, len(s.data))
	for id, e := range s.data {
		entryCopy := *e
		saved[id] = &entryCopy
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ storage.SettlementJournalStore = (*SettlementJournalStore)(nil)
