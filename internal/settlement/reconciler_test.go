package settlement

import (
	"context"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/settlement/stub"
)

func TestReconciler_RetriesFailedTransfer(t *testing.T) {
	gw := stub.NewGateway()
	gw.FailTokenTransfer = true
	rec, journal := newTestRecorder(gw)
	ctx := context.Background()

	entryID := rec.SubmitTokenTransfer(ctx, "pool-1", "token-pool-1", "treasury-1", "holder-1", 100)

	// The gateway recovers before the sweep.
	gw.FailTokenTransfer = false

	reconciler := NewReconciler(ReconcilerOptions{
		Journal: journal,
		Gateway: gw,
		Now:     func() int64 { return 1700000000000 },
	})

	settled, err := reconciler.ReconcileOnce(ctx)
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}

	entry, err := journal.GetByID(ctx, entryID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != domain.SettlementStatusSettled {
		t.Errorf("entry status = %s, want SETTLED", entry.Status)
	}
	if entry.TxID == "" {
		t.Error("expected settlement tx id")
	}
}

func TestReconciler_SkipsFailedMint(t *testing.T) {
	gw := stub.NewGateway()
	gw.FailMint = true
	rec, journal := newTestRecorder(gw)
	ctx := context.Background()

	if _, err := rec.Mint(ctx, "pool-1", 1000, "treasury-1"); err == nil {
		t.Fatal("expected mint failure")
	}

	gw.FailMint = false
	reconciler := NewReconciler(ReconcilerOptions{Journal: journal, Gateway: gw})

	settled, err := reconciler.ReconcileOnce(ctx)
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0 (mints are not auto-retried)", settled)
	}
	if gw.MintCount() != 0 {
		t.Errorf("gateway minted %d times, want 0", gw.MintCount())
	}
}

func TestReconciler_RespectsAttemptBudget(t *testing.T) {
	gw := stub.NewGateway()
	gw.FailTokenTransfer = true
	rec, journal := newTestRecorder(gw)
	ctx := context.Background()

	entryID := rec.SubmitTokenTransfer(ctx, "pool-1", "token-pool-1", "a", "b", 10)

	entry, err := journal.GetByID(ctx, entryID)
	if err != nil {
		t.Fatal(err)
	}
	entry.Attempts = 10
	if err := journal.Update(ctx, entry); err != nil {
		t.Fatal(err)
	}

	gw.FailTokenTransfer = false
	reconciler := NewReconciler(ReconcilerOptions{
		Journal:     journal,
		Gateway:     gw,
		MaxAttempts: 10,
	})

	settled, err := reconciler.ReconcileOnce(ctx)
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0 (budget exhausted)", settled)
	}
	if gw.TransferCount() != 0 {
		t.Errorf("gateway called %d times, want 0", gw.TransferCount())
	}
}
