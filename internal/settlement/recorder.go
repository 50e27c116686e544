package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/storage"
)

// DefaultCallTimeout bounds a single journaled gateway call.
const DefaultCallTimeout = 30 * time.Second

// Recorder journals gateway side effects and drives the calls. Token
// and currency transfers are best-effort: the ledger mutation they
// belong to is already committed, so a gateway failure is journaled and
// logged, never propagated. Minting is synchronous because the launch
// flow needs the token reference.
type Recorder struct {
	journal storage.SettlementJournalStore
	gateway Gateway
	logger  *zap.Logger
	timeout time.Duration
	now     func() int64
}

// RecorderOptions contains configuration for creating a Recorder.
type RecorderOptions struct {
	Journal storage.SettlementJournalStore
	Gateway Gateway
	Logger  *zap.Logger

	// CallTimeout bounds each gateway call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewRecorder creates a settlement recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	r := &Recorder{
		journal: opts.Journal,
		gateway: opts.Gateway,
		logger:  opts.Logger,
		timeout: opts.CallTimeout,
		now:     opts.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultCallTimeout
	}
	if r.now == nil {
		r.now = func() int64 { return time.Now().UnixMilli() }
	}
	return r
}

// MintEntryID returns the deterministic journal entry id for a pool's
// mint. One pool mints at most once, so the entry doubles as the
// double-mint guard.
func MintEntryID(poolID string) string {
	return "mint-" + poolID
}

// Mint journals and performs the launch mint. The journal entry is
// written PENDING before the gateway call; if a previous attempt is
// still PENDING its outcome is unknown and a retry could mint twice, so
// the call fails with ConflictError. A FAILED previous attempt is
// retried. A SETTLED entry returns the already-minted token reference.
func (r *Recorder) Mint(ctx context.Context, poolID string, supply int64, treasury string) (string, error) {
	entryID := MintEntryID(poolID)
	nowMs := r.now()

	entry, err := r.journal.GetByID(ctx, entryID)
	switch {
	case err == nil:
		switch entry.Status {
		case domain.SettlementStatusSettled:
			return entry.TokenRef, nil
		case domain.SettlementStatusPending:
			return "", errs.Conflict("mint for pool %s has unknown outcome, reconcile before retrying", poolID)
		}
		// FAILED: retry below.
		entry.Status = domain.SettlementStatusPending
		entry.UpdatedAt = nowMs
		if err := r.journal.Update(ctx, entry); err != nil {
			return "", errs.Internal("update mint journal entry", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		entry = &domain.SettlementEntry{
			EntryID:   entryID,
			PoolID:    poolID,
			Operation: domain.SettlementOpMint,
			ToAddress: treasury,
			Tokens:    supply,
			Status:    domain.SettlementStatusPending,
			CreatedAt: nowMs,
			UpdatedAt: nowMs,
		}
		if err := r.journal.Insert(ctx, entry); err != nil {
			return "", errs.Internal("insert mint journal entry", err)
		}
	default:
		return "", errs.Internal("read mint journal entry", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	observability.RecordSettlementSubmission(string(entry.Operation))
	start := time.Now()
	tokenRef, callErr := r.gateway.MintToken(callCtx, poolID, supply, treasury)
	observability.RecordGatewayLatency("MintToken", time.Since(start).Seconds())
	entry.Attempts++
	entry.UpdatedAt = r.now()

	if callErr != nil {
		entry.Status = domain.SettlementStatusFailed
		entry.LastError = callErr.Error()
		observability.RecordSettlementOutcome(string(entry.Operation), string(entry.Status))
		if err := r.journal.Update(ctx, entry); err != nil {
			r.logger.Error("journal update after failed mint",
				zap.String("entry_id", entryID), zap.Error(err))
		}
		return "", errs.Settlement("mint token for pool "+poolID, callErr)
	}

	observability.RecordSettlementOutcome(string(entry.Operation), string(domain.SettlementStatusSettled))
	entry.Status = domain.SettlementStatusSettled
	entry.TokenRef = tokenRef
	entry.LastError = ""
	if err := r.journal.Update(ctx, entry); err != nil {
		r.logger.Error("journal update after settled mint",
			zap.String("entry_id", entryID), zap.Error(err))
	}
	return tokenRef, nil
}

// SubmitTokenTransfer journals and attempts an external token transfer.
// Best-effort: failures are journaled FAILED for the reconciler and
// logged. Returns the journal entry id.
func (r *Recorder) SubmitTokenTransfer(ctx context.Context, poolID, tokenRef, from, to string, tokens int64) string {
	entry := &domain.SettlementEntry{
		EntryID:     uuid.NewString(),
		PoolID:      poolID,
		Operation:   domain.SettlementOpTokenTransfer,
		TokenRef:    tokenRef,
		FromAddress: from,
		ToAddress:   to,
		Tokens:      tokens,
		Status:      domain.SettlementStatusPending,
		CreatedAt:   r.now(),
		UpdatedAt:   r.now(),
	}
	r.submit(ctx, entry, func(callCtx context.Context) (string, error) {
		return r.gateway.TransferToken(callCtx, tokenRef, from, to, tokens)
	})
	return entry.EntryID
}

// SubmitCurrencyTransfer journals and attempts a settlement currency
// transfer. Best-effort, like SubmitTokenTransfer.
func (r *Recorder) SubmitCurrencyTransfer(ctx context.Context, poolID, to string, amount float64) string {
	entry := &domain.SettlementEntry{
		EntryID:   uuid.NewString(),
		PoolID:    poolID,
		Operation: domain.SettlementOpCurrencyTransfer,
		ToAddress: to,
		Amount:    amount,
		Status:    domain.SettlementStatusPending,
		CreatedAt: r.now(),
		UpdatedAt: r.now(),
	}
	r.submit(ctx, entry, func(callCtx context.Context) (string, error) {
		return r.gateway.TransferSettlementCurrency(callCtx, to, amount)
	})
	return entry.EntryID
}

// submit writes the PENDING entry, runs the call with a timeout and
// records the outcome.
func (r *Recorder) submit(ctx context.Context, entry *domain.SettlementEntry, call func(ctx context.Context) (string, error)) {
	if err := r.journal.Insert(ctx, entry); err != nil {
		// The call still runs: ledger state does not depend on the journal.
		r.logger.Error("journal insert",
			zap.String("entry_id", entry.EntryID),
			zap.String("operation", string(entry.Operation)),
			zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	observability.RecordSettlementSubmission(string(entry.Operation))
	start := time.Now()
	txID, err := call(callCtx)
	observability.RecordGatewayLatency(string(entry.Operation), time.Since(start).Seconds())
	entry.Attempts++
	entry.UpdatedAt = r.now()

	if err != nil {
		entry.Status = domain.SettlementStatusFailed
		entry.LastError = err.Error()
		r.logger.Warn("settlement call failed, journaled for reconciliation",
			zap.String("entry_id", entry.EntryID),
			zap.String("operation", string(entry.Operation)),
			zap.String("pool_id", entry.PoolID),
			zap.Error(err))
	} else {
		entry.Status = domain.SettlementStatusSettled
		entry.TxID = txID
	}
	observability.RecordSettlementOutcome(string(entry.Operation), string(entry.Status))

	if err := r.journal.Update(ctx, entry); err != nil {
		r.logger.Error("journal update",
			zap.String("entry_id", entry.EntryID), zap.Error(err))
	}
}

// MarkSettled records an externally confirmed settlement, typically
// driven by the confirmation subscriber.
func (r *Recorder) MarkSettled(ctx context.Context, entryID, txID string) error {
	entry, err := r.journal.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == domain.SettlementStatusSettled {
		return nil
	}
	entry.Status = domain.SettlementStatusSettled
	entry.TxID = txID
	entry.LastError = ""
	entry.UpdatedAt = r.now()
	return r.journal.Update(ctx, entry)
}
