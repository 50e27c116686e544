// Package dividend runs dividend distributions: snapshotting eligible
// holders at a record date, the idempotent credit loop, and per-holder
// claims. The DividendDistribution entity is the single source of truth
// for claim state; holdings mirror the amounts for portfolio queries.
package dividend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/addr"
	"rwa-pool-ledger/internal/auth"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/holdings"
	"rwa-pool-ledger/internal/idhash"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/settlement"
	"rwa-pool-ledger/internal/storage"
)

// maxTxRetries bounds optimistic-concurrency retries per operation.
const maxTxRetries = 3

// Audit trail actions.
const (
	auditCreated         = "CREATED"
	auditExecuteStarted  = "EXECUTE_STARTED"
	auditExecuteFinished = "EXECUTE_FINISHED"
	auditClaimed         = "CLAIMED"
	auditCancelled       = "CANCELLED"
)

// Engine manages the distribution lifecycle.
type Engine struct {
	distributions storage.DistributionStore
	holdings      storage.HoldingStore
	pools         storage.PoolStore
	ledger        *holdings.Ledger
	authz         auth.Authorizer
	recorder      *settlement.Recorder
	events        storage.LedgerEventStore
	txm           storage.TxManager
	logger        *zap.Logger
	now           func() int64
}

// Options contains configuration for creating an Engine.
type Options struct {
	Distributions storage.DistributionStore
	Holdings      storage.HoldingStore
	Pools         storage.PoolStore
	Ledger        *holdings.Ledger
	Authz         auth.Authorizer
	Recorder      *settlement.Recorder
	Events        storage.LedgerEventStore // optional, best-effort analytics
	TxManager     storage.TxManager
	Logger        *zap.Logger

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewEngine creates a dividend engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		distributions: opts.Distributions,
		holdings:      opts.Holdings,
		pools:         opts.Pools,
		ledger:        opts.Ledger,
		authz:         opts.Authz,
		recorder:      opts.Recorder,
		events:        opts.Events,
		txm:           opts.TxManager,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() int64 { return time.Now().UnixMilli() }
	}
	return e
}

// CreateDistribution snapshots the pool's eligible holders as of
// recordDate and creates a PENDING distribution. A holding is eligible
// when it is active, carries tokens, and was first invested no later
// than the record date.
func (e *Engine) CreateDistribution(ctx context.Context, poolID string, totalAmount float64, recordDate, distributionDate int64, operator string) (_ *domain.DividendDistribution, err error) {
	defer observability.Observe("create_distribution", time.Now(), &err)

	if !e.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}
	if totalAmount <= 0 {
		return nil, errs.Validation("dividend amount must be positive, got %f", totalAmount)
	}
	if recordDate <= 0 {
		return nil, errs.Validation("record date is required")
	}

	pool, err := e.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("pool %s not found", poolID)
		}
		return nil, errs.Internal("load pool", err)
	}
	if pool.Status != domain.PoolStatusActive {
		return nil, errs.Conflict("pool %s is not active (status %s)", poolID, pool.Status)
	}

	all, err := e.holdings.ListByPool(ctx, poolID)
	if err != nil {
		return nil, errs.Internal("list holdings", err)
	}

	var (
		eligible       []*domain.Holding
		tokensEligible int64
	)
	for _, h := range all {
		if h.IsActive && h.TotalTokens > 0 && h.FirstInvestedAt <= recordDate {
			eligible = append(eligible, h)
			tokensEligible += h.TotalTokens
		}
	}
	if len(eligible) == 0 || tokensEligible == 0 {
		return nil, errs.Validation("no eligible holders in pool %s at record date", poolID)
	}

	nowMs := e.now()
	distributionID := uuid.NewString()
	perTokenRate := totalAmount / float64(tokensEligible)

	recipients := make([]domain.DividendRecipient, 0, len(eligible))
	for _, h := range eligible {
		recipients = append(recipients, domain.DividendRecipient{
			HolderAddress:  h.HolderAddress,
			TokenAmount:    h.TotalTokens,
			DividendAmount: float64(h.TotalTokens) * perTokenRate,
			CreditKey:      idhash.ComputeCreditKey(distributionID, h.HolderAddress),
		})
	}

	d := &domain.DividendDistribution{
		DistributionID:      distributionID,
		PoolID:              poolID,
		Status:              domain.DistributionStatusPending,
		TotalDividendAmount: totalAmount,
		PerTokenRate:        perTokenRate,
		TotalTokensEligible: tokensEligible,
		RecordDate:          recordDate,
		DistributionDate:    distributionDate,
		Recipients:          recipients,
		TotalUnclaimed:      totalAmount,
		AuditTrail: []domain.AuditEntry{
			{Action: auditCreated, PerformedBy: operator, Timestamp: nowMs},
		},
		CreatedBy: operator,
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	}

	if err := e.distributions.Insert(ctx, d); err != nil {
		return nil, errs.Internal("insert distribution", err)
	}
	observability.DefaultMetrics.DistributionsCreated.Inc()

	e.logger.Info("distribution created",
		zap.String("distribution_id", distributionID),
		zap.String("pool_id", poolID),
		zap.Float64("total_amount", totalAmount),
		zap.Int("recipients", len(recipients)))
	return d, nil
}

// Execute runs the credit loop of a PENDING distribution whose
// distribution date has arrived. Each recipient credit is applied to
// the holding and the distribution's progress in one transaction, so an
// interrupted run resumes from where it stopped: calling Execute on a
// DISTRIBUTING distribution skips recipients already credited.
func (e *Engine) Execute(ctx context.Context, distributionID, operator string) (_ *domain.DividendDistribution, err error) {
	defer observability.Observe("execute_distribution", time.Now(), &err)

	if !e.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}

	d, err := e.getDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}

	switch d.Status {
	case domain.DistributionStatusPending:
		if e.now() < d.DistributionDate {
			return nil, errs.Validation("distribution %s is not due until %d", distributionID, d.DistributionDate)
		}
		d.Status = domain.DistributionStatusDistributing
		d.AuditTrail = append(d.AuditTrail, domain.AuditEntry{
			Action: auditExecuteStarted, PerformedBy: operator, Timestamp: e.now(),
		})
		d.UpdatedAt = e.now()
		if err := e.distributions.Update(ctx, d); err != nil {
			return nil, mapStorageErr("persist distributing", err)
		}
	case domain.DistributionStatusDistributing:
		// Resuming an interrupted run.
	default:
		return nil, errs.Conflict("distribution %s cannot execute from status %s", distributionID, d.Status)
	}

	for i := range d.Recipients {
		rec := &d.Recipients[i]
		if rec.Credited {
			continue
		}

		err := e.txm.InTx(ctx, func(ctx context.Context) error {
			credited, err := e.ledger.CreditDividend(ctx, rec.HolderAddress, d.PoolID, distributionID, rec.DividendAmount)
			if err != nil {
				return err
			}
			if !credited {
				e.logger.Warn("recipient holding already credited, marking progress",
					zap.String("credit_key", rec.CreditKey))
			}
			rec.Credited = true
			d.UpdatedAt = e.now()
			if err := e.distributions.Update(ctx, d); err != nil {
				return mapStorageErr("persist credit progress", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		observability.DefaultMetrics.RecipientsCredited.Inc()

		e.appendEvent(ctx, &domain.LedgerEvent{
			EventID:    uuid.NewString(),
			PoolID:     d.PoolID,
			HolderAddr: rec.HolderAddress,
			Type:       domain.EventDividendCredit,
			Amount:     rec.DividendAmount,
			Timestamp:  e.now(),
		})
	}

	d.Status = domain.DistributionStatusDistributed
	d.AuditTrail = append(d.AuditTrail, domain.AuditEntry{
		Action: auditExecuteFinished, PerformedBy: operator, Timestamp: e.now(),
	})
	d.UpdatedAt = e.now()
	if err := e.distributions.Update(ctx, d); err != nil {
		return nil, mapStorageErr("persist distributed", err)
	}
	observability.DefaultMetrics.DistributionsExecuted.Inc()

	e.logger.Info("distribution executed",
		zap.String("distribution_id", distributionID),
		zap.Int("recipients", len(d.Recipients)))
	return d, nil
}

// Claim marks one recipient's share claimed and moves the amount from
// unclaimed to claimed on both the distribution and the holding, in one
// transaction. Then a settlement currency transfer to the holder is
// attempted best-effort.
func (e *Engine) Claim(ctx context.Context, distributionID, holderAddress string) (_ *domain.DividendDistribution, err error) {
	defer observability.Observe("claim_dividend", time.Now(), &err)

	if err := addr.Validate(holderAddress); err != nil {
		return nil, errs.Validation("invalid holder address: %v", err)
	}

	var (
		d      *domain.DividendDistribution
		amount float64
	)

	err = e.withRetry(ctx, func(ctx context.Context) error {
		cur, err := e.getDistribution(ctx, distributionID)
		if err != nil {
			return err
		}
		if cur.Status != domain.DistributionStatusDistributed {
			return errs.Conflict("distribution %s is not claimable (status %s)", distributionID, cur.Status)
		}

		rec := cur.FindRecipient(holderAddress)
		if rec == nil {
			return errs.NotFound("holder %s is not a recipient of distribution %s", holderAddress, distributionID)
		}
		if rec.IsClaimed {
			return errs.Conflict("dividend already claimed by %s", holderAddress)
		}

		nowMs := e.now()
		rec.IsClaimed = true
		rec.ClaimedAt = &nowMs
		cur.TotalUnclaimed -= rec.DividendAmount
		cur.TotalClaimed += rec.DividendAmount
		cur.AuditTrail = append(cur.AuditTrail, domain.AuditEntry{
			Action: auditClaimed, PerformedBy: holderAddress, Timestamp: nowMs,
		})
		cur.UpdatedAt = nowMs
		if err := e.distributions.Update(ctx, cur); err != nil {
			return mapStorageErr("persist claim", err)
		}

		if err := e.ledger.MoveClaimed(ctx, holderAddress, cur.PoolID, distributionID, rec.DividendAmount); err != nil {
			return err
		}

		d = cur
		amount = rec.DividendAmount
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Claim state is committed; paying out the settlement currency is an
	// eventually consistent side effect.
	e.recorder.SubmitCurrencyTransfer(ctx, d.PoolID, holderAddress, amount)
	observability.DefaultMetrics.DividendsClaimed.Inc()

	e.appendEvent(ctx, &domain.LedgerEvent{
		EventID:    uuid.NewString(),
		PoolID:     d.PoolID,
		HolderAddr: holderAddress,
		Type:       domain.EventDividendClaim,
		Amount:     amount,
		Timestamp:  e.now(),
	})
	e.logger.Info("dividend claimed",
		zap.String("distribution_id", distributionID),
		zap.String("holder", holderAddress),
		zap.Float64("amount", amount))
	return d, nil
}

// Cancel moves a PENDING distribution to CANCELLED. DISTRIBUTING,
// DISTRIBUTED and CANCELLED distributions cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, distributionID, operator string) (_ *domain.DividendDistribution, err error) {
	defer observability.Observe("cancel_distribution", time.Now(), &err)

	if !e.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}

	d, err := e.getDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	if !d.Status.CanTransitionTo(domain.DistributionStatusCancelled) {
		return nil, errs.Conflict("distribution %s cannot cancel from status %s", distributionID, d.Status)
	}

	d.Status = domain.DistributionStatusCancelled
	d.AuditTrail = append(d.AuditTrail, domain.AuditEntry{
		Action: auditCancelled, PerformedBy: operator, Timestamp: e.now(),
	})
	d.UpdatedAt = e.now()
	if err := e.distributions.Update(ctx, d); err != nil {
		return nil, mapStorageErr("persist cancel", err)
	}

	e.logger.Info("distribution cancelled",
		zap.String("distribution_id", distributionID),
		zap.String("operator", operator))
	return d, nil
}

// GetDistribution returns one distribution or NotFoundError.
func (e *Engine) GetDistribution(ctx context.Context, distributionID string) (*domain.DividendDistribution, error) {
	return e.getDistribution(ctx, distributionID)
}

// ListDistributions returns all distributions of a pool ordered by
// creation time.
func (e *Engine) ListDistributions(ctx context.Context, poolID string) ([]*domain.DividendDistribution, error) {
	list, err := e.distributions.ListByPool(ctx, poolID)
	if err != nil {
		return nil, errs.Internal("list distributions", err)
	}
	return list, nil
}

// withRetry runs fn in a transaction, retrying on version conflicts.
// An exhausted retry budget surfaces as ConflictError.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = e.txm.InTx(ctx, fn)
		if err == nil || !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
	}
	return errs.Conflict("claim lost %d concurrent update races, retry", maxTxRetries)
}

// appendEvent writes an analytics event; failures are logged only.
func (e *Engine) appendEvent(ctx context.Context, ev *domain.LedgerEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Warn("append ledger event",
			zap.String("event_id", ev.EventID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

func (e *Engine) getDistribution(ctx context.Context, distributionID string) (*domain.DividendDistribution, error) {
	d, err := e.distributions.GetByID(ctx, distributionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("distribution %s not found", distributionID)
		}
		return nil, errs.Internal("load distribution", err)
	}
	return d, nil
}

// mapStorageErr converts storage sentinels into taxonomy errors while
// keeping the version-conflict sentinel visible for retry loops.
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
