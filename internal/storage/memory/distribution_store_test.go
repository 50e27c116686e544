package memory

import (
	"context"
	"errors"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

func TestDistributionStore_InsertAndGet(t *testing.T) {
	store := NewDistributionStore()
	ctx := context.Background()

	d := &domain.DividendDistribution{
		DistributionID:      "dist1",
		PoolID:              "pool1",
		Status:              domain.DistributionStatusPending,
		TotalDividendAmount: 500,
		PerTokenRate:        5,
		TotalTokensEligible: 100,
		TotalUnclaimed:      500,
		Recipients: []domain.DividendRecipient{
			{HolderAddress: "alice", TokenAmount: 100, DividendAmount: 500},
		},
	}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "dist1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.DistributionStatusPending {
		t.Errorf("status mismatch: %s", got.Status)
	}
	if len(got.Recipients) != 1 || got.Recipients[0].DividendAmount != 500 {
		t.Errorf("recipients mismatch: %+v", got.Recipients)
	}
}

func TestDistributionStore_DuplicateKey(t *testing.T) {
	store := NewDistributionStore()
	ctx := context.Background()

	d := &domain.DividendDistribution{DistributionID: "dist1", PoolID: "pool1"}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, d); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDistributionStore_VersionConflict(t *testing.T) {
	store := NewDistributionStore()
	ctx := context.Background()

	d := &domain.DividendDistribution{DistributionID: "dist1", PoolID: "pool1", Status: domain.DistributionStatusPending}
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	first, _ := store.GetByID(ctx, "dist1")
	second, _ := store.GetByID(ctx, "dist1")

	first.Status = domain.DistributionStatusDistributing
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	second.Status = domain.DistributionStatusCancelled
	if err := store.Update(ctx, second); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestDistributionStore_ListByPool(t *testing.T) {
	store := NewDistributionStore()
	ctx := context.Background()

	for _, d := range []*domain.DividendDistribution{
		{DistributionID: "d1", PoolID: "pool1", CreatedAt: 2000},
		{DistributionID: "d2", PoolID: "pool2", CreatedAt: 1000},
		{DistributionID: "d3", PoolID: "pool1", CreatedAt: 1000},
	} {
		if err := store.Insert(ctx, d); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.ListByPool(ctx, "pool1")
	if err != nil {
		t.Fatalf("ListByPool failed: %v", err)
	}
	if len(got) != 2 || got[0].DistributionID != "d3" || got[1].DistributionID != "d1" {
		t.Errorf("wrong result: %+v", got)
	}
}
