package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// HoldingStore implements storage.HoldingStore using PostgreSQL.
// Transfer history, dividend records and staking records are embedded
// documents stored as JSONB.
type HoldingStore struct {
	pool *Pool
}

// NewHoldingStore creates a new HoldingStore.
func NewHoldingStore(pool *Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HoldingStore = (*HoldingStore)(nil)

const holdingColumns = `
	holder_address, pool_id, total_tokens, available_tokens, locked_tokens,
	total_invested, average_buy_price, current_value, unrealized_pnl,
	realized_pnl, roi, dividends_received, dividends_claimed,
	dividends_unclaimed, transfers, dividends, staking_records,
	first_invested_at, is_active, created_at, updated_at, version
`

// Insert adds a new holding at version 1. Returns ErrDuplicateKey if
// the (holder, pool) pair exists.
func (s *HoldingStore) Insert(ctx context.Context, h *domain.Holding) error {
	transfers, dividends, stakingRecords, err := marshalHoldingDocs(h)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO holdings (
			holder_address, pool_id, total_tokens, available_tokens, locked_tokens,
			total_invested, average_buy_price, current_value, unrealized_pnl,
			realized_pnl, roi, dividends_received, dividends_claimed,
			dividends_unclaimed, transfers, dividends, staking_records,
			first_invested_at, is_active, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, 1)
	`

	_, err = s.pool.db(ctx).Exec(ctx, query,
		h.HolderAddress,
		h.PoolID,
		h.TotalTokens,
		h.AvailableTokens,
		h.LockedTokens,
		h.TotalInvested,
		h.AverageBuyPrice,
		h.CurrentValue,
		h.UnrealizedPnL,
		h.RealizedPnL,
		h.ROI,
		h.TotalDividendsReceived,
		h.TotalDividendsClaimed,
		h.TotalDividendsUnclaimed,
		transfers,
		dividends,
		stakingRecords,
		h.FirstInvestedAt,
		h.IsActive,
		h.CreatedAt,
		h.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert holding: %w", err)
	}

	h.Version = 1
	return nil
}

// Get retrieves a holding. Returns ErrNotFound if not exists.
func (s *HoldingStore) Get(ctx context.Context, holderAddress, poolID string) (*domain.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE holder_address = $1 AND pool_id = $2`

	row := s.pool.db(ctx).QueryRow(ctx, query, holderAddress, poolID)
	h, err := scanHolding(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holding: %w", err)
	}
	return h, nil
}

// Update persists a modified holding under the optimistic version check.
func (s *HoldingStore) Update(ctx context.Context, h *domain.Holding) error {
	transfers, dividends, stakingRecords, err := marshalHoldingDocs(h)
	if err != nil {
		return err
	}

	query := `
		UPDATE holdings SET
			total_tokens = $3, available_tokens = $4, locked_tokens = $5,
			total_invested = $6, average_buy_price = $7, current_value = $8,
			unrealized_pnl = $9, realized_pnl = $10, roi = $11,
			dividends_received = $12, dividends_claimed = $13,
			dividends_unclaimed = $14, transfers = $15, dividends = $16,
			staking_records = $17, first_invested_at = $18, is_active = $19,
			updated_at = $20, version = version + 1
		WHERE holder_address = $1 AND pool_id = $2 AND version = $21
	`

	tag, err := s.pool.db(ctx).Exec(ctx, query,
		h.HolderAddress,
		h.PoolID,
		h.TotalTokens,
		h.AvailableTokens,
		h.LockedTokens,
		h.TotalInvested,
		h.AverageBuyPrice,
		h.CurrentValue,
		h.UnrealizedPnL,
		h.RealizedPnL,
		h.ROI,
		h.TotalDividendsReceived,
		h.TotalDividendsClaimed,
		h.TotalDividendsUnclaimed,
		transfers,
		dividends,
		stakingRecords,
		h.FirstInvestedAt,
		h.IsActive,
		h.UpdatedAt,
		h.Version,
	)
	if err != nil {
		return fmt.Errorf("update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, h.HolderAddress, h.PoolID)
	}

	h.Version++
	return nil
}

// classifyMissedUpdate distinguishes a stale version from a missing row.
func (s *HoldingStore) classifyMissedUpdate(ctx context.Context, holderAddress, poolID string) error {
	var exists bool
	err := s.pool.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM holdings WHERE holder_address = $1 AND pool_id = $2)`,
		holderAddress, poolID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check holding existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

// ListByPool retrieves all holdings of a pool, ordered by holder ASC.
func (s *HoldingStore) ListByPool(ctx context.Context, poolID string) ([]*domain.Holding, error) {
	query := `SELECT ` + holdingColumns + `
		FROM holdings
		WHERE pool_id = $1
		ORDER BY holder_address ASC
	`

	rows, err := s.pool.db(ctx).Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("list holdings by pool: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// ListByHolder retrieves all holdings of one holder, ordered by pool_id ASC.
func (s *HoldingStore) ListByHolder(ctx context.Context, holderAddress string) ([]*domain.Holding, error) {
	query := `SELECT ` + holdingColumns + `
		FROM holdings
		WHERE holder_address = $1
		ORDER BY pool_id ASC
	`

	rows, err := s.pool.db(ctx).Query(ctx, query, holderAddress)
	if err != nil {
		return nil, fmt.Errorf("list holdings by holder: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// marshalHoldingDocs encodes the embedded JSONB documents.
func marshalHoldingDocs(h *domain.Holding) (transfers, dividends, stakingRecords []byte, err error) {
	transfers, err = json.Marshal(h.Transfers)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal holding transfers: %w", err)
	}
	dividends, err = json.Marshal(h.Dividends)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal holding dividends: %w", err)
	}
	stakingRecords, err = json.Marshal(h.StakingRecords)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal holding staking records: %w", err)
	}
	return transfers, dividends, stakingRecords, nil
}

// scanHolding scans a single row into a Holding.
func scanHolding(row pgx.Row) (*domain.Holding, error) {
	var h domain.Holding
	var transfers, dividends, stakingRecords []byte

	err := row.Scan(
		&h.HolderAddress,
		&h.PoolID,
		&h.TotalTokens,
		&h.AvailableTokens,
		&h.LockedTokens,
		&h.TotalInvested,
		&h.AverageBuyPrice,
		&h.CurrentValue,
		&h.UnrealizedPnL,
		&h.RealizedPnL,
		&h.ROI,
		&h.TotalDividendsReceived,
		&h.TotalDividendsClaimed,
		&h.TotalDividendsUnclaimed,
		&transfers,
		&dividends,
		&stakingRecords,
		&h.FirstInvestedAt,
		&h.IsActive,
		&h.CreatedAt,
		&h.UpdatedAt,
		&h.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(transfers, &h.Transfers); err != nil {
		return nil, fmt.Errorf("unmarshal holding transfers: %w", err)
	}
	if err := json.Unmarshal(dividends, &h.Dividends); err != nil {
		return nil, fmt.Errorf("unmarshal holding dividends: %w", err)
	}
	if err := json.Unmarshal(stakingRecords, &h.StakingRecords); err != nil {
		return nil, fmt.Errorf("unmarshal holding staking records: %w", err)
	}
	return &h, nil
}

// scanHoldings scans multiple rows into a slice of Holding.
func scanHoldings(rows pgx.Rows) ([]*domain.Holding, error) {
	var holdings []*domain.Holding

	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding row: %w", err)
		}
		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holding rows: %w", err)
	}

	return holdings, nil
}
