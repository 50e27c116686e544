// Package transfer moves tokens between two holdings of the same pool
// atomically: both sides are updated in one storage transaction and
// share one immutable transfer record.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/addr"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/holdings"
	"rwa-pool-ledger/internal/idhash"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/settlement"
	"rwa-pool-ledger/internal/storage"
)

// maxTxRetries bounds optimistic-concurrency retries per transfer.
const maxTxRetries = 3

// Service implements peer-to-peer token transfers.
type Service struct {
	holdings storage.HoldingStore
	pools    storage.PoolStore
	recorder *settlement.Recorder
	events   storage.LedgerEventStore
	txm      storage.TxManager
	logger   *zap.Logger
	now      func() int64
}

// Options contains configuration for creating a transfer Service.
type Options struct {
	Holdings  storage.HoldingStore
	Pools     storage.PoolStore
	Recorder  *settlement.Recorder
	Events    storage.LedgerEventStore // optional, best-effort analytics
	TxManager storage.TxManager
	Logger    *zap.Logger

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewService creates a transfer service.
func NewService(opts Options) *Service {
	s := &Service{
		holdings: opts.Holdings,
		pools:    opts.Pools,
		recorder: opts.Recorder,
		events:   opts.Events,
		txm:      opts.TxManager,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() int64 { return time.Now().UnixMilli() }
	}
	return s
}

// Transfer moves tokens from one holder to another within a pool. The
// sender's available balance is debited and the receiver's holding is
// credited at the pool's current market price, so the receiver's cost
// basis is reset to market rather than inheriting the sender's. Both
// holdings record the same TokenTransfer entry. Tokens are conserved:
// the pool-wide token sum is identical before and after.
func (s *Service) Transfer(ctx context.Context, poolID, from, to string, tokens int64) (_ *domain.TokenTransfer, err error) {
	defer observability.Observe("transfer", time.Now(), &err)

	if err := addr.Validate(from); err != nil {
		return nil, errs.Validation("invalid sender address: %v", err)
	}
	if err := addr.Validate(to); err != nil {
		return nil, errs.Validation("invalid receiver address: %v", err)
	}
	if from == to {
		return nil, errs.Validation("sender and receiver are the same address")
	}
	if tokens <= 0 {
		return nil, errs.Validation("transfer tokens must be positive, got %d", tokens)
	}

	var (
		record   domain.TokenTransfer
		tokenRef string
	)

	err = s.withRetry(ctx, func(ctx context.Context) error {
		pool, err := s.pools.GetByID(ctx, poolID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errs.NotFound("pool %s not found", poolID)
			}
			return errs.Internal("load pool", err)
		}
		tokenRef = pool.ExternalTokenRef

		sender, err := s.holdings.Get(ctx, from, poolID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errs.NotFound("sender %s has no holding in pool %s", from, poolID)
			}
			return errs.Internal("load sender holding", err)
		}
		if !sender.IsActive {
			return errs.NotFound("sender %s has no active holding in pool %s", from, poolID)
		}
		if sender.AvailableTokens < tokens {
			return errs.Validation("insufficient balance: %d available, %d requested",
				sender.AvailableTokens, tokens)
		}

		nowMs := s.now()
		record = domain.TokenTransfer{
			TransferID:    idhash.ComputeTransferID(poolID, from, to, tokens, nowMs),
			PoolID:        poolID,
			FromAddress:   from,
			ToAddress:     to,
			Tokens:        tokens,
			PricePerToken: pool.CurrentPrice,
			Type:          domain.TransferTypeP2P,
			Timestamp:     nowMs,
		}

		sender.AvailableTokens -= tokens
		sender.TotalTokens -= tokens
		if sender.TotalTokens == 0 && sender.TotalDividendsUnclaimed == 0 {
			sender.IsActive = false
		}
		sender.Transfers = append(sender.Transfers, record)
		holdings.Recompute(sender, pool.CurrentPrice)
		sender.UpdatedAt = nowMs
		if err := s.holdings.Update(ctx, sender); err != nil {
			return mapStorageErr("persist sender holding", err)
		}

		created := false
		receiver, err := s.holdings.Get(ctx, to, poolID)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNotFound):
			created = true
			receiver = &domain.Holding{
				HolderAddress:   to,
				PoolID:          poolID,
				FirstInvestedAt: nowMs,
				CreatedAt:       nowMs,
			}
		default:
			return errs.Internal("load receiver holding", err)
		}

		holdings.ApplyCredit(receiver, tokens, pool.CurrentPrice, float64(tokens)*pool.CurrentPrice)
		receiver.IsActive = true
		receiver.Transfers = append(receiver.Transfers, record)
		holdings.Recompute(receiver, pool.CurrentPrice)
		receiver.UpdatedAt = nowMs

		if created {
			err = s.holdings.Insert(ctx, receiver)
		} else {
			err = s.holdings.Update(ctx, receiver)
		}
		if err != nil {
			return mapStorageErr("persist receiver holding", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Ledger ownership is committed; settlement is an eventually
	// consistent side effect.
	s.recorder.SubmitTokenTransfer(ctx, poolID, tokenRef, from, to, tokens)

	s.appendEvent(ctx, &domain.LedgerEvent{
		EventID:      uuid.NewString(),
		PoolID:       poolID,
		HolderAddr:   from,
		Counterparty: to,
		Type:         domain.EventTransfer,
		Tokens:       tokens,
		Timestamp:    s.now(),
	})
	s.logger.Info("tokens transferred",
		zap.String("pool_id", poolID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int64("tokens", tokens))
	return &record, nil
}

// withRetry runs fn in a transaction, retrying on version conflicts.
// An exhausted retry budget surfaces as ConflictError.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.txm.InTx(ctx, fn)
		if err == nil || !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
	}
	return errs.Conflict("transfer lost %d concurrent update races, retry", maxTxRetries)
}

// appendEvent writes an analytics event; failures are logged only.
func (s *Service) appendEvent(ctx context.Context, e *domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, e); err != nil {
		s.logger.Warn("append ledger event",
			zap.String("event_id", e.EventID),
			zap.String("type", string(e.Type)),
			zap.Error(err))
	}
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
