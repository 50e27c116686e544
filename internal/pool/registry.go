// Package pool owns the pool lifecycle: creation from validated asset
// compositions, the launch mint, investment intake with aggregate
// counters, and closing.
package pool

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-pool-ledger/internal/addr"
	"rwa-pool-ledger/internal/assets"
	"rwa-pool-ledger/internal/auth"
	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/errs"
	"rwa-pool-ledger/internal/holdings"
	"rwa-pool-ledger/internal/observability"
	"rwa-pool-ledger/internal/settlement"
	"rwa-pool-ledger/internal/storage"
)

// maxTxRetries bounds optimistic-concurrency retries per operation.
const maxTxRetries = 3

// Registry manages pool lifecycle and investment intake.
type Registry struct {
	pools    storage.PoolStore
	ledger   *holdings.Ledger
	assets   assets.Validator
	authz    auth.Authorizer
	recorder *settlement.Recorder
	events   storage.LedgerEventStore
	txm      storage.TxManager
	logger   *zap.Logger
	now      func() int64
}

// Options contains configuration for creating a Registry.
type Options struct {
	Pools     storage.PoolStore
	Ledger    *holdings.Ledger
	Assets    assets.Validator
	Authz     auth.Authorizer
	Recorder  *settlement.Recorder
	Events    storage.LedgerEventStore // optional, best-effort analytics
	TxManager storage.TxManager
	Logger    *zap.Logger

	// Now overrides the clock in tests. Returns Unix milliseconds.
	Now func() int64
}

// NewRegistry creates a pool registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		pools:    opts.Pools,
		ledger:   opts.Ledger,
		assets:   opts.Assets,
		authz:    opts.Authz,
		recorder: opts.Recorder,
		events:   opts.Events,
		txm:      opts.TxManager,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = func() int64 { return time.Now().UnixMilli() }
	}
	return r
}

// CreatePoolSpec is the validated command payload for CreatePool.
type CreatePoolSpec struct {
	Name              string
	Assets            []domain.PoolAsset
	TotalValue        float64
	TokenSupply       int64
	TokenPrice        float64
	MinimumInvestment float64
	TreasuryAddress   string
}

// CreatePool validates the composition and produces a DRAFT pool. No
// external side effects happen until launch.
func (r *Registry) CreatePool(ctx context.Context, spec CreatePoolSpec, operator string) (_ *domain.Pool, err error) {
	defer observability.Observe("create_pool", time.Now(), &err)

	if !r.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}
	if spec.Name == "" {
		return nil, errs.Validation("pool name is required")
	}
	if spec.TokenSupply <= 0 {
		return nil, errs.Validation("token supply must be positive, got %d", spec.TokenSupply)
	}
	if spec.TokenPrice <= 0 {
		return nil, errs.Validation("token price must be positive, got %f", spec.TokenPrice)
	}
	if spec.MinimumInvestment < 0 {
		return nil, errs.Validation("minimum investment must not be negative, got %f", spec.MinimumInvestment)
	}
	if err := addr.Validate(spec.TreasuryAddress); err != nil {
		return nil, errs.Validation("invalid treasury address: %v", err)
	}
	if err := assets.ValidateComposition(spec.Assets, spec.TotalValue); err != nil {
		return nil, err
	}
	if err := assets.ValidateForPool(ctx, r.assets, spec.Assets); err != nil {
		return nil, err
	}

	nowMs := r.now()
	p := &domain.Pool{
		PoolID:            uuid.NewString(),
		Name:              spec.Name,
		Status:            domain.PoolStatusDraft,
		Assets:            spec.Assets,
		TotalValue:        spec.TotalValue,
		TokenSupply:       spec.TokenSupply,
		TokenPrice:        spec.TokenPrice,
		MinimumInvestment: spec.MinimumInvestment,
		CurrentPrice:      spec.TokenPrice,
		TreasuryAddress:   spec.TreasuryAddress,
		CreatedBy:         operator,
		CreatedAt:         nowMs,
		UpdatedAt:         nowMs,
	}

	if err := r.pools.Insert(ctx, p); err != nil {
		return nil, errs.Internal("insert pool", err)
	}

	r.logger.Info("pool created",
		zap.String("pool_id", p.PoolID),
		zap.String("name", p.Name),
		zap.String("operator", operator))
	return p, nil
}

// LaunchPool mints the token supply and activates the pool. The pool is
// persisted LAUNCHING before the gateway call, so a crashed or failed
// launch cannot trigger a second mint: the settlement journal entry for
// the mint gates every retry.
func (r *Registry) LaunchPool(ctx context.Context, poolID, operator string) (_ *domain.Pool, err error) {
	defer observability.Observe("launch_pool", time.Now(), &err)

	if !r.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}

	p, err := r.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case domain.PoolStatusDraft:
		p.Status = domain.PoolStatusLaunching
		p.UpdatedAt = r.now()
		if err := r.pools.Update(ctx, p); err != nil {
			return nil, mapStorageErr("persist launching pool", err)
		}
	case domain.PoolStatusLaunching:
		// A previous launch attempt failed before activation; the mint
		// recorder decides whether retrying is safe.
	case domain.PoolStatusActive:
		return nil, errs.Conflict("pool %s is already launched", poolID)
	default:
		return nil, errs.Conflict("pool %s cannot launch from status %s", poolID, p.Status)
	}

	tokenRef, err := r.recorder.Mint(ctx, poolID, p.TokenSupply, p.TreasuryAddress)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PoolStatusActive
	p.ExternalTokenRef = tokenRef
	p.UpdatedAt = r.now()
	if err := r.pools.Update(ctx, p); err != nil {
		return nil, mapStorageErr("persist active pool", err)
	}

	r.appendEvent(ctx, &domain.LedgerEvent{
		EventID:   uuid.NewString(),
		PoolID:    poolID,
		Type:      domain.EventPoolLaunched,
		Tokens:    p.TokenSupply,
		Timestamp: r.now(),
	})
	r.logger.Info("pool launched",
		zap.String("pool_id", poolID),
		zap.String("token_ref", tokenRef))
	return p, nil
}

// Invest credits an investor with floor(amount / tokenPrice) tokens,
// updates the pool aggregates and the investor's holding atomically,
// then attempts best-effort external settlement of the token transfer.
func (r *Registry) Invest(ctx context.Context, poolID, investorAddress string, amount float64) (_ *domain.Holding, err error) {
	defer observability.Observe("invest", time.Now(), &err)

	if err := addr.Validate(investorAddress); err != nil {
		return nil, errs.Validation("invalid investor address: %v", err)
	}
	if amount <= 0 {
		return nil, errs.Validation("investment amount must be positive, got %f", amount)
	}

	var (
		holding *domain.Holding
		tokens  int64
		pool    *domain.Pool
	)

	err = r.withRetry(ctx, func(ctx context.Context) error {
		p, err := r.getPool(ctx, poolID)
		if err != nil {
			return err
		}
		if p.Status != domain.PoolStatusActive {
			return errs.Conflict("pool %s is not active (status %s)", poolID, p.Status)
		}
		if amount < p.MinimumInvestment {
			return errs.Validation("amount %f is below minimum investment %f", amount, p.MinimumInvestment)
		}

		tokens = int64(math.Floor(amount / p.TokenPrice))
		if tokens == 0 {
			return errs.Validation("amount %f buys zero tokens at price %f", amount, p.TokenPrice)
		}

		h, err := r.ledger.Credit(ctx, investorAddress, poolID, tokens, p.TokenPrice, amount)
		if err != nil {
			return err
		}

		nowMs := r.now()
		if inv := p.FindInvestment(investorAddress); inv != nil {
			inv.Amount += amount
			inv.Tokens += tokens
			inv.IsActive = true
			inv.UpdatedAt = nowMs
		} else {
			p.Investments = append(p.Investments, domain.Investment{
				InvestorAddress: investorAddress,
				Amount:          amount,
				Tokens:          tokens,
				TokenPrice:      p.TokenPrice,
				FirstInvestedAt: nowMs,
				UpdatedAt:       nowMs,
				IsActive:        true,
			})
		}

		// Aggregates are recomputed from the records they derive from,
		// inside the same transaction.
		p.TotalInvested = 0
		p.TotalInvestors = 0
		for i := range p.Investments {
			if p.Investments[i].IsActive {
				p.TotalInvested += p.Investments[i].Amount
				p.TotalInvestors++
			}
		}
		p.UpdatedAt = nowMs

		if err := r.pools.Update(ctx, p); err != nil {
			return mapStorageErr("persist pool", err)
		}

		holding = h
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Ledger ownership is committed; settlement is an eventually
	// consistent side effect.
	r.recorder.SubmitTokenTransfer(ctx, poolID, pool.ExternalTokenRef, pool.TreasuryAddress, investorAddress, tokens)
	observability.RecordInvestment(poolID, tokens, amount)

	r.appendEvent(ctx, &domain.LedgerEvent{
		EventID:    uuid.NewString(),
		PoolID:     poolID,
		HolderAddr: investorAddress,
		Type:       domain.EventInvestment,
		Tokens:     tokens,
		Amount:     amount,
		Timestamp:  r.now(),
	})
	r.logger.Info("investment recorded",
		zap.String("pool_id", poolID),
		zap.String("investor", investorAddress),
		zap.Float64("amount", amount),
		zap.Int64("tokens", tokens))
	return holding, nil
}

// ClosePool transitions an ACTIVE pool to CLOSED. Every other service
// checks pool status, so no further investment, distribution or staking
// is accepted afterwards.
func (r *Registry) ClosePool(ctx context.Context, poolID, operator string) (_ *domain.Pool, err error) {
	defer observability.Observe("close_pool", time.Now(), &err)

	if !r.authz.IsAuthorized(ctx, operator) {
		return nil, errs.Validation("operator %s is not authorized", operator)
	}

	p, err := r.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PoolStatusActive {
		return nil, errs.Conflict("pool %s is not active (status %s)", poolID, p.Status)
	}

	p.Status = domain.PoolStatusClosed
	p.UpdatedAt = r.now()
	if err := r.pools.Update(ctx, p); err != nil {
		return nil, mapStorageErr("persist pool", err)
	}

	r.appendEvent(ctx, &domain.LedgerEvent{
		EventID:   uuid.NewString(),
		PoolID:    poolID,
		Type:      domain.EventPoolClosed,
		Timestamp: r.now(),
	})
	r.logger.Info("pool closed",
		zap.String("pool_id", poolID),
		zap.String("operator", operator))
	return p, nil
}

// GetPool returns one pool or NotFoundError.
func (r *Registry) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	return r.getPool(ctx, poolID)
}

// ListPools returns all pools ordered by creation time.
func (r *Registry) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	pools, err := r.pools.List(ctx)
	if err != nil {
		return nil, errs.Internal("list pools", err)
	}
	return pools, nil
}

// withRetry runs fn in a transaction, retrying on version conflicts.
// An exhausted retry budget surfaces as ConflictError.
func (r *Registry) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = r.txm.InTx(ctx, fn)
		if err == nil || !isVersionConflict(err) {
			return err
		}
	}
	return errs.Conflict("operation lost %d concurrent update races, retry", maxTxRetries)
}

// appendEvent writes an analytics event; failures are logged only.
func (r *Registry) appendEvent(ctx context.Context, e *domain.LedgerEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.Append(ctx, e); err != nil {
		r.logger.Warn("append ledger event",
			zap.String("event_id", e.EventID),
			zap.String("type", string(e.Type)),
			zap.Error(err))
	}
}

func (r *Registry) getPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	p, err := r.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("pool %s not found", poolID)
		}
		return nil, errs.Internal("load pool", err)
	}
	return p, nil
}

// isVersionConflict detects a lost optimistic-concurrency race, either
// as the raw sentinel or already mapped to a conflict kind.
func isVersionConflict(err error) bool {
	return errors.Is(err, storage.ErrVersionConflict)
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
