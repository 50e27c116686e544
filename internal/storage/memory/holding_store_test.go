package memory

import (
	"context"
	"errors"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

func TestHoldingStore_InsertAndGet(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	h := &domain.Holding{
		HolderAddress:   "alice",
		PoolID:          "pool1",
		TotalTokens:     100,
		AvailableTokens: 100,
		TotalInvested:   1000,
		AverageBuyPrice: 10,
		IsActive:        true,
	}
	if err := store.Insert(ctx, h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, "alice", "pool1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalTokens != 100 || got.AvailableTokens != 100 {
		t.Errorf("token balance mismatch: %+v", got)
	}
}

func TestHoldingStore_DuplicatePair(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	h := &domain.Holding{HolderAddress: "alice", PoolID: "pool1"}
	if err := store.Insert(ctx, h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, &domain.Holding{HolderAddress: "alice", PoolID: "pool1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	// Same holder, different pool is a different row.
	if err := store.Insert(ctx, &domain.Holding{HolderAddress: "alice", PoolID: "pool2"}); err != nil {
		t.Errorf("insert for second pool failed: %v", err)
	}
}

func TestHoldingStore_NotFound(t *testing.T) {
	store := NewHoldingStore()
	if _, err := store.Get(context.Background(), "nobody", "pool1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHoldingStore_VersionConflict(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	h := &domain.Holding{HolderAddress: "alice", PoolID: "pool1", AvailableTokens: 100, TotalTokens: 100}
	if err := store.Insert(ctx, h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	first, _ := store.Get(ctx, "alice", "pool1")
	second, _ := store.Get(ctx, "alice", "pool1")

	first.AvailableTokens = 60
	first.TotalTokens = 60
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	second.AvailableTokens = 40
	second.TotalTokens = 40
	if err := store.Update(ctx, second); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestHoldingStore_ListByPoolOrder(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	for _, holder := range []string{"carol", "alice", "bob"} {
		h := &domain.Holding{HolderAddress: holder, PoolID: "pool1"}
		if err := store.Insert(ctx, h); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.ListByPool(ctx, "pool1")
	if err != nil {
		t.Fatalf("ListByPool failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	for i, h := range got {
		if h.HolderAddress != want[i] {
			t.Errorf("position %d: got %s, want %s", i, h.HolderAddress, want[i])
		}
	}
}

func TestHoldingStore_EmbeddedSliceIsolation(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	h := &domain.Holding{
		HolderAddress: "alice",
		PoolID:        "pool1",
		Transfers: []domain.TokenTransfer{
			{TransferID: "t1", Tokens: 10, Type: domain.TransferTypeInvestment},
		},
	}
	if err := store.Insert(ctx, h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.Get(ctx, "alice", "pool1")
	got.Transfers[0].Tokens = 999

	again, _ := store.Get(ctx, "alice", "pool1")
	if again.Transfers[0].Tokens != 10 {
		t.Errorf("stored transfer mutated through returned copy: %d", again.Transfers[0].Tokens)
	}
}
