package settlement

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/storage"
)

// Reconciler default configuration.
const (
	DefaultReconcileInterval  = 1 * time.Minute
	DefaultMaxAttempts        = 10
	DefaultPendingGracePeriod = 5 * time.Minute
)

// Reconciler retries FAILED settlement journal entries in the
// background. Mint entries are never retried automatically because the
// mint is not idempotent on the gateway side; they are flagged instead.
// PENDING entries older than the grace period are flagged as stuck.
type Reconciler struct {
	journal     storage.SettlementJournalStore
	gateway     Gateway
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	callTimeout time.Duration
	gracePeriod time.Duration
	now         func() int64
}

// ReconcilerOptions contains configuration for creating a Reconciler.
type ReconcilerOptions struct {
	Journal storage.SettlementJournalStore
	Gateway Gateway
	Logger  *zap.Logger

	// Interval between reconciliation sweeps. Defaults to
	// DefaultReconcileInterval.
	Interval time.Duration

	// MaxAttempts is the total attempt cap per entry, including the
	// original call. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// CallTimeout bounds each retried gateway call.
	CallTimeout time.Duration

	// PendingGracePeriod is how long a PENDING entry may sit before it
	// is flagged as stuck.
	PendingGracePeriod time.Duration

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewReconciler creates a settlement reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		journal:     opts.Journal,
		gateway:     opts.Gateway,
		logger:      opts.Logger,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		callTimeout: opts.CallTimeout,
		gracePeriod: opts.PendingGracePeriod,
		now:         opts.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.interval <= 0 {
		r.interval = DefaultReconcileInterval
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.callTimeout <= 0 {
		r.callTimeout = DefaultCallTimeout
	}
	if r.gracePeriod <= 0 {
		r.gracePeriod = DefaultPendingGracePeriod
	}
	if r.now == nil {
		r.now = func() int64 { return time.Now().UnixMilli() }
	}
	return r
}

// Run sweeps the journal on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := r.ReconcileOnce(ctx)
			if err != nil {
				r.logger.Error("reconciliation sweep", zap.Error(err))
				continue
			}
			if settled > 0 {
				r.logger.Info("reconciliation sweep settled entries", zap.Int("settled", settled))
			}
		}
	}
}

// ReconcileOnce retries every eligible FAILED entry once (with its own
// backoff) and flags stuck PENDING entries. Returns the number of
// entries that settled.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	failed, err := r.journal.ListByStatus(ctx, domain.SettlementStatusFailed)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, entry := range failed {
		if entry.Operation == domain.SettlementOpMint {
			r.logger.Warn("failed mint requires manual reconciliation",
				zap.String("entry_id", entry.EntryID),
				zap.String("pool_id", entry.PoolID))
			continue
		}
		if entry.Attempts >= r.maxAttempts {
			r.logger.Warn("settlement entry exhausted retry budget",
				zap.String("entry_id", entry.EntryID),
				zap.String("operation", string(entry.Operation)),
				zap.Int("attempts", entry.Attempts))
			continue
		}

		if r.retryEntry(ctx, entry) {
			settled++
		}
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
	}

	r.flagStuckPending(ctx)
	return settled, nil
}

// retryEntry re-runs one transfer with exponential backoff. Reports
// whether the entry settled.
func (r *Reconciler) retryEntry(ctx context.Context, entry *domain.SettlementEntry) bool {
	observability.DefaultMetrics.ReconcilerRetries.Inc()
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

	txID, err := backoff.RetryWithData(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		switch entry.Operation {
		case domain.SettlementOpTokenTransfer:
			return r.gateway.TransferToken(callCtx, entry.TokenRef, entry.FromAddress, entry.ToAddress, entry.Tokens)
		case domain.SettlementOpCurrencyTransfer:
			return r.gateway.TransferSettlementCurrency(callCtx, entry.ToAddress, entry.Amount)
		default:
			return "", backoff.Permanent(errUnknownOperation(entry.Operation))
		}
	}, policy)

	entry.Attempts++
	entry.UpdatedAt = r.now()

	if err != nil {
		entry.LastError = err.Error()
		observability.RecordSettlementOutcome(string(entry.Operation), string(domain.SettlementStatusFailed))
		if updateErr := r.journal.Update(ctx, entry); updateErr != nil {
			r.logger.Error("journal update after retry failure",
				zap.String("entry_id", entry.EntryID), zap.Error(updateErr))
		}
		r.logger.Warn("settlement retry failed",
			zap.String("entry_id", entry.EntryID),
			zap.String("operation", string(entry.Operation)),
			zap.Int("attempts", entry.Attempts),
			zap.Error(err))
		return false
	}

	entry.Status = domain.SettlementStatusSettled
	entry.TxID = txID
	entry.LastError = ""
	observability.RecordSettlementOutcome(string(entry.Operation), string(entry.Status))
	if updateErr := r.journal.Update(ctx, entry); updateErr != nil {
		r.logger.Error("journal update after retry success",
			zap.String("entry_id", entry.EntryID), zap.Error(updateErr))
	}
	return true
}

// flagStuckPending logs PENDING entries older than the grace period.
// Their outcome is unknown, so they are surfaced for manual review
// rather than retried.
func (r *Reconciler) flagStuckPending(ctx context.Context) {
	pending, err := r.journal.ListByStatus(ctx, domain.SettlementStatusPending)
	if err != nil {
		r.logger.Error("list pending settlement entries", zap.Error(err))
		return
	}

	cutoff := r.now() - r.gracePeriod.Milliseconds()
	stuck := 0
	for _, entry := range pending {
		if entry.CreatedAt <= cutoff {
			stuck++
			r.logger.Warn("settlement entry stuck in PENDING",
				zap.String("entry_id", entry.EntryID),
				zap.String("operation", string(entry.Operation)),
				zap.String("pool_id", entry.PoolID))
		}
	}
	observability.DefaultMetrics.StuckPendingEntries.Set(float64(stuck))
}

type errUnknownOperation domain.SettlementOperation

func (e errUnknownOperation) Error() string {
	return "unknown settlement operation: " + string(e)
}
