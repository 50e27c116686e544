package holdings

import (
	"context"
	"math"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/storage/memory"
)

const testNow = int64(1700000000000)

func newTestLedger(t *testing.T) (*Ledger, *memory.HoldingStore, *memory.PoolStore) {
	t.Helper()

	holdings := memory.NewHoldingStore()
	pools := memory.NewPoolStore()
	ledger := NewLedger(Options{
		Holdings: holdings,
		Pools:    pools,
		Now:      func() int64 { return testNow },
	})

	err := pools.Insert(context.Background(), &domain.Pool{
		PoolID:       "pool-1",
		Status:       domain.PoolStatusActive,
		TokenSupply:  1000000,
		TokenPrice:   10,
		CurrentPrice: 10,
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatalf("insert pool: %v", err)
	}

	return ledger, holdings, pools
}

func TestLedger_CreditCreatesHolding(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	h, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if h.TotalTokens != 100 || h.AvailableTokens != 100 || h.LockedTokens != 0 {
		t.Errorf("balances = %d/%d/%d, want 100/100/0", h.TotalTokens, h.AvailableTokens, h.LockedTokens)
	}
	if h.TotalInvested != 1000 {
		t.Errorf("invested = %f, want 1000", h.TotalInvested)
	}
	if h.AverageBuyPrice != 10 {
		t.Errorf("average buy price = %f, want 10", h.AverageBuyPrice)
	}
	if h.FirstInvestedAt != testNow {
		t.Errorf("first invested at = %d, want %d", h.FirstInvestedAt, testNow)
	}
	if len(h.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(h.Transfers))
	}
	if h.Transfers[0].Type != domain.TransferTypeInvestment || h.Transfers[0].ToAddress != "holder-1" {
		t.Errorf("unexpected transfer record: %+v", h.Transfers[0])
	}
	if h.CurrentValue != 1000 {
		t.Errorf("current value = %f, want 1000", h.CurrentValue)
	}
}

func TestLedger_CreditValueWeightedAverage(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	// 100 tokens at 10, then 50 tokens at 16: average is
	// (1000 + 800) / 150 = 12, not (10+16)/2.
	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}
	h, err := ledger.Credit(ctx, "holder-1", "pool-1", 50, 16, 800)
	if err != nil {
		t.Fatal(err)
	}

	if h.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", h.TotalTokens)
	}
	if math.Abs(h.AverageBuyPrice-12) > 1e-9 {
		t.Errorf("average buy price = %f, want 12", h.AverageBuyPrice)
	}
	if h.TotalInvested != 1800 {
		t.Errorf("invested = %f, want 1800", h.TotalInvested)
	}
	if len(h.Transfers) != 2 {
		t.Errorf("transfers = %d, want 2", len(h.Transfers))
	}
}

func TestLedger_CreditValidation(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 0, 10, 100); !errs.IsValidation(err) {
		t.Errorf("zero tokens: got %v, want validation error", err)
	}
	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 10, 10, 0); !errs.IsValidation(err) {
		t.Errorf("zero value: got %v, want validation error", err)
	}
	if _, err := ledger.Credit(ctx, "holder-1", "missing-pool", 10, 10, 100); !errs.IsNotFound(err) {
		t.Errorf("missing pool: got %v, want not found error", err)
	}
}

func TestLedger_RevalueHolding(t *testing.T) {
	ledger, _, pools := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}

	// Market moves from 10 to 12.
	pool, err := pools.GetByID(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	pool.CurrentPrice = 12
	if err := pools.Update(ctx, pool); err != nil {
		t.Fatal(err)
	}

	h, err := ledger.RevalueHolding(ctx, "holder-1", "pool-1")
	if err != nil {
		t.Fatalf("RevalueHolding: %v", err)
	}

	if h.CurrentValue != 1200 {
		t.Errorf("current value = %f, want 1200", h.CurrentValue)
	}
	if h.UnrealizedPnL != 200 {
		t.Errorf("unrealized pnl = %f, want 200", h.UnrealizedPnL)
	}
	if math.Abs(h.ROI-20) > 1e-9 {
		t.Errorf("roi = %f, want 20", h.ROI)
	}
}

func TestRecompute_ZeroInvested(t *testing.T) {
	h := &domain.Holding{TotalTokens: 100}
	Recompute(h, 5)

	if h.CurrentValue != 500 {
		t.Errorf("current value = %f, want 500", h.CurrentValue)
	}
	if h.ROI != 0 {
		t.Errorf("roi = %f, want 0 when nothing invested", h.ROI)
	}
}

func TestLedger_GetHoldingNotFound(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.GetHolding(context.Background(), "nobody", "pool-1")
	if !errs.IsNotFound(err) {
		t.Errorf("got %v, want not found error", err)
	}
}

func TestLedger_CreditDividendIdempotent(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}

	credited, err := ledger.CreditDividend(ctx, "holder-1", "pool-1", "dist-1", 500)
	if err != nil || !credited {
		t.Fatalf("first CreditDividend = %v, %v, want credited", credited, err)
	}

	// Second credit for the same distribution is a no-op.
	credited, err = ledger.CreditDividend(ctx, "holder-1", "pool-1", "dist-1", 500)
	if err != nil || credited {
		t.Fatalf("second CreditDividend = %v, %v, want skipped", credited, err)
	}

	h, err := ledger.GetHolding(ctx, "holder-1", "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalDividendsReceived != 500 || h.TotalDividendsUnclaimed != 500 {
		t.Errorf("dividends received/unclaimed = %f/%f, want 500/500",
			h.TotalDividendsReceived, h.TotalDividendsUnclaimed)
	}
	if len(h.Dividends) != 1 {
		t.Errorf("dividend records = %d, want 1", len(h.Dividends))
	}
}

func TestLedger_MoveClaimed(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.CreditDividend(ctx, "holder-1", "pool-1", "dist-1", 500); err != nil {
		t.Fatal(err)
	}

	if err := ledger.MoveClaimed(ctx, "holder-1", "pool-1", "dist-1", 500); err != nil {
		t.Fatalf("MoveClaimed: %v", err)
	}

	h, err := ledger.GetHolding(ctx, "holder-1", "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalDividendsClaimed != 500 || h.TotalDividendsUnclaimed != 0 {
		t.Errorf("claimed/unclaimed = %f/%f, want 500/0",
			h.TotalDividendsClaimed, h.TotalDividendsUnclaimed)
	}
	if h.Dividends[0].ClaimedAt == nil {
		t.Error("dividend record not stamped claimed")
	}

	// Claiming twice conflicts.
	if err := ledger.MoveClaimed(ctx, "holder-1", "pool-1", "dist-1", 500); !errs.IsConflict(err) {
		t.Errorf("second MoveClaimed: got %v, want conflict error", err)
	}
	// Unknown distribution is not found.
	if err := ledger.MoveClaimed(ctx, "holder-1", "pool-1", "dist-x", 1); !errs.IsNotFound(err) {
		t.Errorf("unknown distribution: got %v, want not found error", err)
	}
}

func TestLedger_RevaluePool(t *testing.T) {
	ledger, _, pools := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Credit(ctx, "holder-2", "pool-1", 200, 10, 2000); err != nil {
		t.Fatal(err)
	}

	pool, err := pools.GetByID(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	pool.CurrentPrice = 11
	if err := pools.Update(ctx, pool); err != nil {
		t.Fatal(err)
	}

	updated, err := ledger.RevaluePool(ctx, "pool-1")
	if err != nil {
		t.Fatalf("RevaluePool: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}

	h, err := ledger.GetHolding(ctx, "holder-2", "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.CurrentValue != 2200 {
		t.Errorf("current value = %f, want 2200", h.CurrentValue)
	}
}

func TestLedger_GetPortfolioSummary(t *testing.T) {
	ledger, _, pools := newTestLedger(t)
	ctx := context.Background()

	err := pools.Insert(ctx, &domain.Pool{
		PoolID:       "pool-2",
		Status:       domain.PoolStatusActive,
		TokenPrice:   5,
		CurrentPrice: 5,
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ledger.Credit(ctx, "holder-1", "pool-1", 100, 10, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Credit(ctx, "holder-1", "pool-2", 40, 5, 200); err != nil {
		t.Fatal(err)
	}

	summary, err := ledger.GetPortfolioSummary(ctx, "holder-1")
	if err != nil {
		t.Fatalf("GetPortfolioSummary: %v", err)
	}

	if summary.Pools != 2 {
		t.Errorf("pools = %d, want 2", summary.Pools)
	}
	if summary.TotalTokens != 140 {
		t.Errorf("total tokens = %d, want 140", summary.TotalTokens)
	}
	if summary.TotalInvested != 1200 {
		t.Errorf("invested = %f, want 1200", summary.TotalInvested)
	}
	if summary.CurrentValue != 1200 {
		t.Errorf("current value = %f, want 1200", summary.CurrentValue)
	}

	// Unknown holder yields an empty summary, not an error.
	summary, err = ledger.GetPortfolioSummary(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pools != 0 || len(summary.Holdings) != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}
