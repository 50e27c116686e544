// Package staking locks tokens inside a holding. Staked tokens stay on
// the holder's balance sheet but move from available to locked, so they
// cannot be transferred until unstaked.
package staking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/addr"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/storage"
)

// maxTxRetries bounds optimistic-concurrency retries per operation.
const maxTxRetries = 3

// Service implements the staking sub-ledger.
type Service struct {
	holdings storage.HoldingStore
	pools    storage.PoolStore
	events   storage.LedgerEventStore
	txm      storage.TxManager
	logger   *zap.Logger
	now      func() int64
}

// Options contains configuration for creating a staking Service.
type Options struct {
	Holdings  storage.HoldingStore
	Pools     storage.PoolStore
	Events    storage.LedgerEventStore // optional, best-effort analytics
	TxManager storage.TxManager
	Logger    *zap.Logger

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewService creates a staking service.
func NewService(opts Options) *Service {
	s := &Service{
		holdings: opts.Holdings,
		pools:    opts.Pools,
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

// Stake moves tokens from available to locked and appends an ACTIVE
// staking record. The holding's total balance is unchanged.
func (s *Service) Stake(ctx context.Context, holder, poolID string, amount int64) (_ *domain.StakingRecord, err error) {
	defer observability.Observe("stake", time.Now(), &err)

	if err := addr.Validate(holder); err != nil {
		return nil, errs.Validation("invalid holder address: %v", err)
	}
	if amount <= 0 {
		return nil, errs.Validation("stake amount must be positive, got %d", amount)
	}

	var record domain.StakingRecord

	err = s.withRetry(ctx, func(ctx context.Context) error {
		pool, err := s.pools.GetByID(ctx, poolID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errs.NotFound("pool %s not found", poolID)
			}
			return errs.Internal("load pool", err)
		}
		if pool.Status != domain.PoolStatusActive {
			return errs.Conflict("pool %s is not active (status %s)", poolID, pool.Status)
		}

		h, err := s.getHolding(ctx, holder, poolID)
		if err != nil {
			return err
		}
		if h.AvailableTokens < amount {
			return errs.Validation("insufficient available tokens: %d available, %d requested",
				h.AvailableTokens, amount)
		}

		nowMs := s.now()
		record = domain.StakingRecord{
			StakingID: uuid.NewString(),
			Amount:    amount,
			Status:    domain.StakingStatusActive,
			StakedAt:  nowMs,
		}

		h.AvailableTokens -= amount
		h.LockedTokens += amount
		h.StakingRecords = append(h.StakingRecords, record)
		h.UpdatedAt = nowMs

		if err := s.holdings.Update(ctx, h); err != nil {
			return mapStorageErr("persist holding", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, &domain.LedgerEvent{
		EventID:    uuid.NewString(),
		PoolID:     poolID,
		HolderAddr: holder,
		Type:       domain.EventStake,
		Tokens:     amount,
		Timestamp:  s.now(),
	})
	s.logger.Info("tokens staked",
		zap.String("pool_id", poolID),
		zap.String("holder", holder),
		zap.Int64("amount", amount),
		zap.String("staking_id", record.StakingID))
	return &record, nil
}

// Unstake releases the tokens of one ACTIVE staking record back to the
// available balance and marks the record UNSTAKED.
func (s *Service) Unstake(ctx context.Context, holder, poolID, stakingID string) (_ *domain.StakingRecord, err error) {
	defer observability.Observe("unstake", time.Now(), &err)

	if err := addr.Validate(holder); err != nil {
		return nil, errs.Validation("invalid holder address: %v", err)
	}

	var record domain.StakingRecord

	err = s.withRetry(ctx, func(ctx context.Context) error {
		h, err := s.getHolding(ctx, holder, poolID)
		if err != nil {
			return err
		}

		rec := h.ActiveStakingRecord(stakingID)
		if rec == nil {
			return errs.NotFound("no active staking record %s on holding %s/%s", stakingID, holder, poolID)
		}

		nowMs := s.now()
		rec.Status = domain.StakingStatusUnstaked
		rec.UnstakedAt = &nowMs
		h.AvailableTokens += rec.Amount
		h.LockedTokens -= rec.Amount
		h.UpdatedAt = nowMs

		if err := s.holdings.Update(ctx, h); err != nil {
			return mapStorageErr("persist holding", err)
		}
		record = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, &domain.LedgerEvent{
		EventID:    uuid.NewString(),
		PoolID:     poolID,
		HolderAddr: holder,
		Type:       domain.EventUnstake,
		Tokens:     record.Amount,
		Timestamp:  s.now(),
	})
	s.logger.Info("tokens unstaked",
		zap.String("pool_id", poolID),
		zap.String("holder", holder),
		zap.Int64("amount", record.Amount),
		zap.String("staking_id", stakingID))
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
	return errs.Conflict("staking operation lost %d concurrent update races, retry", maxTxRetries)
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

func (s *Service) getHolding(ctx context.Context, holder, poolID string) (*domain.Holding, error) {
	h, err := s.holdings.Get(ctx, holder, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("holding %s/%s not found", holder, poolID)
		}
		return nil, errs.Internal("load holding", err)
	}
	if !h.IsActive {
		return nil, errs.NotFound("holding %s/%s is not active", holder, poolID)
	}
	return h, nil
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
