// Package holdings owns the per-holder balance sheet: token balances,
// invested capital, cost basis, profit and loss, and the dividend
// bookkeeping mirrored from distributions.
package holdings

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/idhash"
	"rwa-pool-ledger/internal/storage"
)

// Ledger provides the investment ledger operations. Mutating methods
// participate in an enclosing storage transaction through ctx.
type Ledger struct {
	holdings storage.HoldingStore
	pools    storage.PoolStore
	logger   *zap.Logger
	now      func() int64
}

// Options contains configuration for creating a Ledger.
type Options struct {
	Holdings storage.HoldingStore
	Pools    storage.PoolStore
	Logger   *zap.Logger

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewLedger creates an investment ledger.
func NewLedger(opts Options) *Ledger {
	l := &Ledger{
		holdings: opts.Holdings,
		pools:    opts.Pools,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = func() int64 { return time.Now().UnixMilli() }
	}
	return l
}

// Recompute refreshes a holding's valuation fields from the pool's
// current market price: current value, unrealized PnL and ROI. ROI is
// zero when nothing was invested (a holding funded purely by incoming
// transfers at zero recorded cost cannot divide by its capital).
func Recompute(h *domain.Holding, currentPrice float64) {
	h.CurrentValue = float64(h.TotalTokens) * currentPrice
	h.UnrealizedPnL = h.CurrentValue - h.TotalInvested
	if h.TotalInvested > 0 {
		h.ROI = h.TotalPnL() / h.TotalInvested * 100
	} else {
		h.ROI = 0
	}
}

// ApplyCredit applies one token credit to a holding: tokens and capital
// are added, and the cost basis becomes the value-weighted average
// (old invested + new value) / (old tokens + new tokens), never a
// simple average of prices.
func ApplyCredit(h *domain.Holding, tokens int64, pricePerToken, totalValue float64) {
	oldTokens := h.TotalTokens
	oldInvested := h.TotalInvested

	h.TotalTokens += tokens
	h.AvailableTokens += tokens
	h.TotalInvested += totalValue

	if oldTokens+tokens > 0 {
		h.AverageBuyPrice = (oldInvested + totalValue) / float64(oldTokens+tokens)
	} else {
		h.AverageBuyPrice = pricePerToken
	}
}

// Credit records a token purchase for (holder, pool): it creates the
// holding on first credit and updates it additively afterwards, and
// appends an immutable INVESTMENT transfer record. The pool must exist;
// its current price drives the revaluation.
func (l *Ledger) Credit(ctx context.Context, holder, poolID string, tokens int64, pricePerToken, totalValue float64) (*domain.Holding, error) {
	if tokens <= 0 {
		return nil, errs.Validation("credit tokens must be positive, got %d", tokens)
	}
	if totalValue <= 0 {
		return nil, errs.Validation("credit value must be positive, got %f", totalValue)
	}

	pool, err := l.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("pool %s not found", poolID)
		}
		return nil, errs.Internal("load pool", err)
	}

	nowMs := l.now()
	created := false

	h, err := l.holdings.Get(ctx, holder, poolID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		created = true
		h = &domain.Holding{
			HolderAddress:   holder,
			PoolID:          poolID,
			AverageBuyPrice: pricePerToken,
			FirstInvestedAt: nowMs,
			IsActive:        true,
			CreatedAt:       nowMs,
		}
	default:
		return nil, errs.Internal("load holding", err)
	}

	ApplyCredit(h, tokens, pricePerToken, totalValue)
	h.IsActive = true
	h.Transfers = append(h.Transfers, domain.TokenTransfer{
		TransferID:    idhash.ComputeTransferID(poolID, "", holder, tokens, nowMs),
		PoolID:        poolID,
		ToAddress:     holder,
		Tokens:        tokens,
		PricePerToken: pricePerToken,
		Type:          domain.TransferTypeInvestment,
		Timestamp:     nowMs,
	})
	Recompute(h, pool.CurrentPrice)
	h.UpdatedAt = nowMs

	if created {
		err = l.holdings.Insert(ctx, h)
	} else {
		err = l.holdings.Update(ctx, h)
	}
	if err != nil {
		return nil, mapStorageErr("persist holding", err)
	}

	l.logger.Debug("holding credited",
		zap.String("holder", holder),
		zap.String("pool_id", poolID),
		zap.Int64("tokens", tokens))
	return h, nil
}

// RevalueHolding recomputes one holding's valuation from the pool's
// current price and persists it.
func (l *Ledger) RevalueHolding(ctx context.Context, holder, poolID string) (*domain.Holding, error) {
	pool, err := l.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("pool %s not found", poolID)
		}
		return nil, errs.Internal("load pool", err)
	}

	h, err := l.getHolding(ctx, holder, poolID)
	if err != nil {
		return nil, err
	}

	Recompute(h, pool.CurrentPrice)
	h.UpdatedAt = l.now()
	if err := l.holdings.Update(ctx, h); err != nil {
		return nil, mapStorageErr("persist holding", err)
	}
	return h, nil
}

// RevaluePool recomputes every holding of a pool. Returns the number of
// holdings updated. Used by the periodic revaluation loop.
func (l *Ledger) RevaluePool(ctx context.Context, poolID string) (int, error) {
	pool, err := l.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, errs.NotFound("pool %s not found", poolID)
		}
		return 0, errs.Internal("load pool", err)
	}

	all, err := l.holdings.ListByPool(ctx, poolID)
	if err != nil {
		return 0, errs.Internal("list holdings", err)
	}

	updated := 0
	for _, h := range all {
		if !h.IsActive {
			continue
		}
		Recompute(h, pool.CurrentPrice)
		h.UpdatedAt = l.now()
		if err := l.holdings.Update(ctx, h); err != nil {
			// Racing writers win; the next sweep picks the holding up again.
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return updated, mapStorageErr("persist holding", err)
		}
		updated++
	}
	return updated, nil
}

// GetHolding returns one holding or NotFoundError.
func (l *Ledger) GetHolding(ctx context.Context, holder, poolID string) (*domain.Holding, error) {
	return l.getHolding(ctx, holder, poolID)
}

// CreditDividend applies one distribution credit to a holding's
// dividend totals. Idempotent per (holder, distribution): a repeated
// credit reports false and changes nothing, so a resumed distribution
// execute never double-credits.
func (l *Ledger) CreditDividend(ctx context.Context, holder, poolID, distributionID string, amount float64) (bool, error) {
	h, err := l.getHolding(ctx, holder, poolID)
	if err != nil {
		return false, err
	}

	for _, rec := range h.Dividends {
		if rec.DistributionID == distributionID {
			return false, nil
		}
	}

	nowMs := l.now()
	h.Dividends = append(h.Dividends, domain.DividendRecord{
		DistributionID: distributionID,
		Amount:         amount,
		CreditedAt:     nowMs,
	})
	h.TotalDividendsReceived += amount
	h.TotalDividendsUnclaimed += amount
	h.UpdatedAt = nowMs

	if err := l.holdings.Update(ctx, h); err != nil {
		return false, mapStorageErr("persist holding", err)
	}
	return true, nil
}

// MoveClaimed moves a credited dividend amount from the holding's
// unclaimed to claimed totals and stamps the matching dividend record.
func (l *Ledger) MoveClaimed(ctx context.Context, holder, poolID, distributionID string, amount float64) error {
	h, err := l.getHolding(ctx, holder, poolID)
	if err != nil {
		return err
	}

	nowMs := l.now()
	found := false
	for i := range h.Dividends {
		if h.Dividends[i].DistributionID == distributionID {
			if h.Dividends[i].ClaimedAt != nil {
				return errs.Conflict("dividend %s already claimed by %s", distributionID, holder)
			}
			h.Dividends[i].ClaimedAt = &nowMs
			found = true
			break
		}
	}
	if !found {
		return errs.NotFound("no dividend record for distribution %s on holding %s/%s", distributionID, holder, poolID)
	}

	h.TotalDividendsUnclaimed -= amount
	h.TotalDividendsClaimed += amount
	h.UpdatedAt = nowMs

	if err := l.holdings.Update(ctx, h); err != nil {
		return mapStorageErr("persist holding", err)
	}
	return nil
}

// PortfolioSummary aggregates one holder's positions across pools.
type PortfolioSummary struct {
	HolderAddress      string
	Pools              int
	TotalTokens        int64
	TotalInvested      float64
	CurrentValue       float64
	UnrealizedPnL      float64
	RealizedPnL        float64
	DividendsReceived  float64
	DividendsClaimed   float64
	DividendsUnclaimed float64
	Holdings           []*domain.Holding
}

// GetPortfolioSummary aggregates all active holdings of one holder.
func (l *Ledger) GetPortfolioSummary(ctx context.Context, holder string) (*PortfolioSummary, error) {
	all, err := l.holdings.ListByHolder(ctx, holder)
	if err != nil {
		return nil, errs.Internal("list holdings", err)
	}

	summary := &PortfolioSummary{HolderAddress: holder}
	for _, h := range all {
		if !h.IsActive {
			continue
		}
		summary.Pools++
		summary.TotalTokens += h.TotalTokens
		summary.TotalInvested += h.TotalInvested
		summary.CurrentValue += h.CurrentValue
		summary.UnrealizedPnL += h.UnrealizedPnL
		summary.RealizedPnL += h.RealizedPnL
		summary.DividendsReceived += h.TotalDividendsReceived
		summary.DividendsClaimed += h.TotalDividendsClaimed
		summary.DividendsUnclaimed += h.TotalDividendsUnclaimed
		summary.Holdings = append(summary.Holdings, h)
	}
	return summary, nil
}

// getHolding loads a holding mapping storage errors to the taxonomy.
func (l *Ledger) getHolding(ctx context.Context, holder, poolID string) (*domain.Holding, error) {
	h, err := l.holdings.Get(ctx, holder, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("holding %s/%s not found", holder, poolID)
		}
		return nil, errs.Internal("load holding", err)
	}
	return h, nil
}

// mapStorageErr converts storage sentinels into taxonomy errors. The
// version-conflict sentinel passes through untouched so enclosing
// transaction retry loops can detect it.
func mapStorageErr(msg string, err error) error {
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return errs.NotFound("%s: entity vanished", msg)
	default:
		return errs.Internal(msg, err)
	}
}
