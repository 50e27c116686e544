// Package audit verifies the ledger's cross-entity invariants: token
// conservation between pools and holdings, balance splits, dividend
// totals, and pool aggregates against their backing investment records.
// It reads stores directly and never mutates anything.
package audit

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/storage"
)

// FloatTolerance is the base tolerance for float64 comparisons. The
// dividend-total check scales it by the recipient count to absorb
// accumulated per-recipient rounding.
const FloatTolerance = 1e-6

// Violation is one detected invariant breach.
type Violation struct {
	Check    string // invariant name
	PoolID   string
	EntityID string // holding or distribution the breach was found on, if any
	Detail   string
}

// Report aggregates one verification sweep.
type Report struct {
	PoolsChecked         int
	HoldingsChecked      int
	DistributionsChecked int
	Violations           []Violation
}

// Clean reports whether the sweep found no violations.
func (r *Report) Clean() bool {
	return len(r.Violations) == 0
}

// Verifier runs the invariant checks.
type Verifier struct {
	pools         storage.PoolStore
	holdings      storage.HoldingStore
	distributions storage.DistributionStore
	logger        *zap.Logger
}

// Options contains configuration for creating a Verifier.
type Options struct {
	Pools         storage.PoolStore
	Holdings      storage.HoldingStore
	Distributions storage.DistributionStore
	Logger        *zap.Logger
}

// NewVerifier creates an invariant verifier.
func NewVerifier(opts Options) *Verifier {
	v := &Verifier{
		pools:         opts.Pools,
		holdings:      opts.Holdings,
		distributions: opts.Distributions,
		logger:        opts.Logger,
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v
}

// VerifyPool checks all invariants of one pool, its holdings and its
// distributions.
func (v *Verifier) VerifyPool(ctx context.Context, poolID string) (*Report, error) {
	pool, err := v.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, errs.Internal("load pool", err)
	}

	report := &Report{PoolsChecked: 1}
	if err := v.verifyPool(ctx, pool, report); err != nil {
		return nil, err
	}
	return report, nil
}

// VerifyAll sweeps every pool.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	pools, err := v.pools.List(ctx)
	if err != nil {
		return nil, errs.Internal("list pools", err)
	}

	report := &Report{}
	for _, pool := range pools {
		report.PoolsChecked++
		if err := v.verifyPool(ctx, pool, report); err != nil {
			return nil, err
		}
	}

	if !report.Clean() {
		v.logger.Warn("invariant sweep found violations",
			zap.Int("pools", report.PoolsChecked),
			zap.Int("violations", len(report.Violations)))
	}
	return report, nil
}

func (v *Verifier) verifyPool(ctx context.Context, pool *domain.Pool, report *Report) error {
	holdings, err := v.holdings.ListByPool(ctx, pool.PoolID)
	if err != nil {
		return errs.Internal("list holdings", err)
	}

	// Pool aggregates must equal the sums over active investment records.
	var (
		invested  float64
		investors int64
	)
	for i := range pool.Investments {
		if pool.Investments[i].IsActive {
			invested += pool.Investments[i].Amount
			investors++
		}
	}
	if math.Abs(invested-pool.TotalInvested) > FloatTolerance {
		report.Violations = append(report.Violations, Violation{
			Check:  "pool_total_invested",
			PoolID: pool.PoolID,
			Detail: fmt.Sprintf("total_invested %f, investment records sum to %f", pool.TotalInvested, invested),
		})
	}
	if investors != pool.TotalInvestors {
		report.Violations = append(report.Violations, Violation{
			Check:  "pool_total_investors",
			PoolID: pool.PoolID,
			Detail: fmt.Sprintf("total_investors %d, active investment records %d", pool.TotalInvestors, investors),
		})
	}

	// Tokens are conserved: the holdings of a pool sum to the tokens the
	// pool has sold, transfers included.
	var heldTokens int64
	for _, h := range holdings {
		report.HoldingsChecked++
		heldTokens += h.TotalTokens

		if h.TotalTokens != h.AvailableTokens+h.LockedTokens {
			report.Violations = append(report.Violations, Violation{
				Check:    "holding_balance_split",
				PoolID:   pool.PoolID,
				EntityID: h.HolderAddress,
				Detail: fmt.Sprintf("total %d != available %d + locked %d",
					h.TotalTokens, h.AvailableTokens, h.LockedTokens),
			})
		}
		if h.TotalTokens < 0 || h.AvailableTokens < 0 || h.LockedTokens < 0 {
			report.Violations = append(report.Violations, Violation{
				Check:    "holding_negative_balance",
				PoolID:   pool.PoolID,
				EntityID: h.HolderAddress,
				Detail: fmt.Sprintf("total %d, available %d, locked %d",
					h.TotalTokens, h.AvailableTokens, h.LockedTokens),
			})
		}
		if claimDrift := h.TotalDividendsReceived - h.TotalDividendsClaimed - h.TotalDividendsUnclaimed; math.Abs(claimDrift) > FloatTolerance {
			report.Violations = append(report.Violations, Violation{
				Check:    "holding_dividend_totals",
				PoolID:   pool.PoolID,
				EntityID: h.HolderAddress,
				Detail: fmt.Sprintf("received %f != claimed %f + unclaimed %f",
					h.TotalDividendsReceived, h.TotalDividendsClaimed, h.TotalDividendsUnclaimed),
			})
		}
	}
	if sold := pool.TokensSold(); heldTokens != sold {
		report.Violations = append(report.Violations, Violation{
			Check:  "token_conservation",
			PoolID: pool.PoolID,
			Detail: fmt.Sprintf("holdings sum to %d tokens, pool sold %d", heldTokens, sold),
		})
	}

	distributions, err := v.distributions.ListByPool(ctx, pool.PoolID)
	if err != nil {
		return errs.Internal("list distributions", err)
	}
	for _, d := range distributions {
		report.DistributionsChecked++
		v.verifyDistribution(d, report)
	}
	return nil
}

func (v *Verifier) verifyDistribution(d *domain.DividendDistribution, report *Report) {
	if d.Status == domain.DistributionStatusCancelled {
		return
	}

	tolerance := FloatTolerance * math.Max(1, float64(len(d.Recipients)))

	var recipientSum float64
	for i := range d.Recipients {
		recipientSum += d.Recipients[i].DividendAmount
	}
	if math.Abs(recipientSum-d.TotalDividendAmount) > tolerance {
		report.Violations = append(report.Violations, Violation{
			Check:    "distribution_recipient_sum",
			PoolID:   d.PoolID,
			EntityID: d.DistributionID,
			Detail: fmt.Sprintf("recipients sum to %f, distribution total is %f",
				recipientSum, d.TotalDividendAmount),
		})
	}

	if drift := d.TotalClaimed + d.TotalUnclaimed - d.TotalDividendAmount; math.Abs(drift) > tolerance {
		report.Violations = append(report.Violations, Violation{
			Check:    "distribution_claim_totals",
			PoolID:   d.PoolID,
			EntityID: d.DistributionID,
			Detail: fmt.Sprintf("claimed %f + unclaimed %f != total %f",
				d.TotalClaimed, d.TotalUnclaimed, d.TotalDividendAmount),
		})
	}
}
