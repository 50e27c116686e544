package memory

import (
	"context"
	"errors"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

func testEntry(id string, createdAt int64) *domain.SettlementEntry {
	return &domain.SettlementEntry{
		EntryID:   id,
		PoolID:    "pool-1",
		Operation: domain.SettlementOpTokenTransfer,
		Tokens:    100,
		Status:    domain.SettlementStatusPending,
		CreatedAt: createdAt,
	}
}

func TestSettlementJournalStore_InsertGet(t *testing.T) {
	store := NewSettlementJournalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testEntry("entry-1", 100)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.GetByID(ctx, "entry-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Operation != domain.SettlementOpTokenTransfer || got.Tokens != 100 {
		t.Errorf("unexpected entry: %+v", got)
	}

	if err := store.Insert(ctx, testEntry("entry-1", 100)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate insert: got %v, want ErrDuplicateKey", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing entry: got %v, want ErrNotFound", err)
	}
}

func TestSettlementJournalStore_Update(t *testing.T) {
	store := NewSettlementJournalStore()
	ctx := context.Background()

	e := testEntry("entry-1", 100)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}

	e.Status = domain.SettlementStatusSettled
	e.TxID = "tx-1"
	if err := store.Update(ctx, e); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.GetByID(ctx, "entry-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SettlementStatusSettled || got.TxID != "tx-1" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.Update(ctx, testEntry("missing", 100)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
}

func TestSettlementJournalStore_ListByStatus(t *testing.T) {
	store := NewSettlementJournalStore()
	ctx := context.Background()

	second := testEntry("entry-b", 200)
	first := testEntry("entry-a", 100)
	settled := testEntry("entry-c", 50)
	settled.Status = domain.SettlementStatusSettled

	for _, e := range []*domain.SettlementEntry{second, first, settled} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := store.ListByStatus(ctx, domain.SettlementStatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending entries = %d, want 2", len(pending))
	}
	if pending[0].EntryID != "entry-a" || pending[1].EntryID != "entry-b" {
		t.Errorf("ordering = %s, %s, want entry-a, entry-b", pending[0].EntryID, pending[1].EntryID)
	}
}

func TestSettlementJournalStore_CopiesOut(t *testing.T) {
	store := NewSettlementJournalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testEntry("entry-1", 100)); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetByID(ctx, "entry-1")
	if err != nil {
		t.Fatal(err)
	}
	got.Status = domain.SettlementStatusFailed

	again, err := store.GetByID(ctx, "entry-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != domain.SettlementStatusPending {
		t.Error("caller mutation leaked into the store")
	}
}
