package audit

import (
	"context"
	"testing"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage/memory"
)

const testNow = int64(1700000000000)

func newTestVerifier(t *testing.T) (*Verifier, *memory.PoolStore, *memory.HoldingStore, *memory.DistributionStore) {
	t.Helper()

	pools := memory.NewPoolStore()
	holdings := memory.NewHoldingStore()
	distributions := memory.NewDistributionStore()

	v := NewVerifier(Options{
		Pools:         pools,
		Holdings:      holdings,
		Distributions: distributions,
	})
	return v, pools, holdings, distributions
}

func seedConsistentPool(t *testing.T, pools *memory.PoolStore, holdings *memory.HoldingStore) {
	t.Helper()
	ctx := context.Background()

	err := pools.Insert(ctx, &domain.Pool{
		PoolID: "pool-1",
		Status: domain.PoolStatusActive,
		Investments: []domain.Investment{
			{InvestorAddress: "holder-1", Amount: 1000, Tokens: 100, IsActive: true},
			{InvestorAddress: "holder-2", Amount: 500, Tokens: 50, IsActive: true},
		},
		TotalInvested:  1500,
		TotalInvestors: 2,
		TokenSupply:    1000000,
		CreatedAt:      testNow,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, h := range []*domain.Holding{
		{HolderAddress: "holder-1", PoolID: "pool-1", TotalTokens: 100, AvailableTokens: 70, LockedTokens: 30, IsActive: true},
		{HolderAddress: "holder-2", PoolID: "pool-1", TotalTokens: 50, AvailableTokens: 50, IsActive: true},
	} {
		if err := holdings.Insert(ctx, h); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVerifier_CleanLedger(t *testing.T) {
	v, pools, holdings, _ := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)

	report, err := v.VerifyAll(context.Background())
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}

	if !report.Clean() {
		t.Errorf("expected clean report, got violations: %+v", report.Violations)
	}
	if report.PoolsChecked != 1 || report.HoldingsChecked != 2 {
		t.Errorf("checked %d pools / %d holdings, want 1/2", report.PoolsChecked, report.HoldingsChecked)
	}
}

func TestVerifier_TokenConservationBreach(t *testing.T) {
	v, pools, holdings, _ := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)
	ctx := context.Background()

	// Leak 10 tokens from a holding.
	h, err := holdings.Get(ctx, "holder-2", "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	h.TotalTokens = 40
	h.AvailableTokens = 40
	if err := holdings.Update(ctx, h); err != nil {
		t.Fatal(err)
	}

	report, err := v.VerifyPool(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if !hasViolation(report, "token_conservation") {
		t.Errorf("expected token_conservation violation, got %+v", report.Violations)
	}
}

func TestVerifier_BalanceSplitBreach(t *testing.T) {
	v, pools, holdings, _ := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)
	ctx := context.Background()

	h, err := holdings.Get(ctx, "holder-1", "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	h.LockedTokens = 50 // total stays 100, split now 70+50
	if err := holdings.Update(ctx, h); err != nil {
		t.Fatal(err)
	}

	report, err := v.VerifyPool(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if !hasViolation(report, "holding_balance_split") {
		t.Errorf("expected holding_balance_split violation, got %+v", report.Violations)
	}
}

func TestVerifier_PoolAggregateDrift(t *testing.T) {
	v, pools, holdings, _ := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)
	ctx := context.Background()

	p, err := pools.GetByID(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	p.TotalInvested = 2000 // records sum to 1500
	if err := pools.Update(ctx, p); err != nil {
		t.Fatal(err)
	}

	report, err := v.VerifyPool(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if !hasViolation(report, "pool_total_invested") {
		t.Errorf("expected pool_total_invested violation, got %+v", report.Violations)
	}
}

func TestVerifier_DistributionTotals(t *testing.T) {
	v, pools, holdings, distributions := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)
	ctx := context.Background()

	err := distributions.Insert(ctx, &domain.DividendDistribution{
		DistributionID:      "dist-1",
		PoolID:              "pool-1",
		Status:              domain.DistributionStatusDistributed,
		TotalDividendAmount: 600,
		Recipients: []domain.DividendRecipient{
			{HolderAddress: "holder-1", DividendAmount: 400},
			{HolderAddress: "holder-2", DividendAmount: 200},
		},
		TotalClaimed:   400,
		TotalUnclaimed: 100, // should be 200
		CreatedAt:      testNow,
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := v.VerifyPool(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if !hasViolation(report, "distribution_claim_totals") {
		t.Errorf("expected distribution_claim_totals violation, got %+v", report.Violations)
	}
	if hasViolation(report, "distribution_recipient_sum") {
		t.Errorf("recipient sum is consistent, got %+v", report.Violations)
	}
	if report.DistributionsChecked != 1 {
		t.Errorf("distributions checked = %d, want 1", report.DistributionsChecked)
	}
}

func TestVerifier_CancelledDistributionSkipped(t *testing.T) {
	v, pools, holdings, distributions := newTestVerifier(t)
	seedConsistentPool(t, pools, holdings)
	ctx := context.Background()

	// A cancelled distribution keeps its pre-cancel totals; they are not
	// expected to reconcile.
	err := distributions.Insert(ctx, &domain.DividendDistribution{
		DistributionID:      "dist-1",
		PoolID:              "pool-1",
		Status:              domain.DistributionStatusCancelled,
		TotalDividendAmount: 600,
		TotalUnclaimed:      600,
		Recipients:          nil,
		CreatedAt:           testNow,
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := v.VerifyPool(ctx, "pool-1")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report, got %+v", report.Violations)
	}
}

func hasViolation(r *Report, check string) bool {
	for _, v := range r.Violations {
		if v.Check == check {
			return true
		}
	}
	return false
}
