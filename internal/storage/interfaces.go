package storage

import (
	"context"

	"rwa-pool-ledger/internal/domain"
)

// Versioned entities (Pool, Holding, DividendDistribution) use
// optimistic concurrency: Insert stores the entity at version 1;
// Update succeeds only if the stored version equals the entity's
// version, then increments both. A lost race surfaces as
// ErrVersionConflict and the caller re-reads and retries.

// PoolStore provides access to pools storage.
type PoolStore interface {
	// Insert adds a new pool at version 1. Returns ErrDuplicateKey if
	// pool_id exists.
	Insert(ctx context.Context, p *domain.Pool) error

	// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, poolID string) (*domain.Pool, error)

	// Update persists a modified pool under the optimistic version check.
	Update(ctx context.Context, p *domain.Pool) error

	// ListByStatus retrieves all pools with the given status, ordered by
	// created_at ASC.
	ListByStatus(ctx context.Context, status domain.PoolStatus) ([]*domain.Pool, error)

	// List retrieves all pools, ordered by created_at ASC.
	List(ctx context.Context) ([]*domain.Pool, error)
}

// HoldingStore provides access to holdings storage, keyed
// (holder_address, pool_id).
type HoldingStore interface {
	// Insert adds a new holding at version 1. Returns ErrDuplicateKey if
	// the (holder, pool) pair exists.
	Insert(ctx context.Context, h *domain.Holding) error

	// Get retrieves a holding. Returns ErrNotFound if not exists.
	Get(ctx context.Context, holderAddress, poolID string) (*domain.Holding, error)

	// Update persists a modified holding under the optimistic version check.
	Update(ctx context.Context, h *domain.Holding) error

	// ListByPool retrieves all holdings of a pool, ordered by holder ASC.
	ListByPool(ctx context.Context, poolID string) ([]*domain.Holding, error)

	// ListByHolder retrieves all holdings of one holder across pools,
	// ordered by pool_id ASC.
	ListByHolder(ctx context.Context, holderAddress string) ([]*domain.Holding, error)
}

// DistributionStore provides access to dividend_distributions storage.
type DistributionStore interface {
	// Insert adds a new distribution at version 1. Returns
	// ErrDuplicateKey if distribution_id exists.
	Insert(ctx context.Context, d *domain.DividendDistribution) error

	// GetByID retrieves a distribution. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, distributionID string) (*domain.DividendDistribution, error)

	// Update persists a modified distribution under the optimistic
	// version check.
	Update(ctx context.Context, d *domain.DividendDistribution) error

	// ListByPool retrieves all distributions of a pool, ordered by
	// created_at ASC.
	ListByPool(ctx context.Context, poolID string) ([]*domain.DividendDistribution, error)
}

// SettlementJournalStore provides access to the settlement journal.
type SettlementJournalStore interface {
	// Insert adds a new journal entry. Returns ErrDuplicateKey if
	// entry_id exists.
	Insert(ctx context.Context, e *domain.SettlementEntry) error

	// GetByID retrieves an entry. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, entryID string) (*domain.SettlementEntry, error)

	// Update overwrites an entry by its ID. Returns ErrNotFound if not
	// exists.
	Update(ctx context.Context, e *domain.SettlementEntry) error

	// ListByStatus retrieves entries with the given status, ordered by
	// created_at ASC.
	ListByStatus(ctx context.Context, status domain.SettlementStatus) ([]*domain.SettlementEntry, error)
}

// LedgerEventStore provides access to the append-only analytics event
// journal.
type LedgerEventStore interface {
	// Append adds one event. Duplicate event IDs are tolerated (the
	// journal is analytics-grade, not a source of truth).
	Append(ctx context.Context, e *domain.LedgerEvent) error

	// GetByPool retrieves all events of a pool, ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID string) ([]*domain.LedgerEvent, error)
}

// TxManager runs a function inside a storage transaction. Stores used
// within fn observe and join the transaction through ctx. The
// in-memory implementation serializes transactions instead.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
