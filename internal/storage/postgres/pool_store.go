package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL. Assets and
// investments are embedded documents stored as JSONB.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

const poolColumns = `
	pool_id, name, status, assets, investments, total_value, token_supply,
	token_price, minimum_investment, current_price, total_invested,
	total_investors, external_token_ref, treasury_address, created_by,
	created_at, updated_at, version
`

// Insert adds a new pool at version 1. Returns ErrDuplicateKey if pool_id exists.
func (s *PoolStore) Insert(ctx context.Context, p *domain.Pool) error {
	assets, investments, err := marshalPoolDocs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pools (
			pool_id, name, status, assets, investments, total_value, token_supply,
			token_price, minimum_investment, current_price, total_invested,
			total_investors, external_token_ref, treasury_address, created_by,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)
	`

	_, err = s.pool.db(ctx).Exec(ctx, query,
		p.PoolID,
		p.Name,
		string(p.Status),
		assets,
		investments,
		p.TotalValue,
		p.TokenSupply,
		p.TokenPrice,
		p.MinimumInvestment,
		p.CurrentPrice,
		p.TotalInvested,
		p.TotalInvestors,
		p.ExternalTokenRef,
		p.TreasuryAddress,
		p.CreatedBy,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pool: %w", err)
	}

	p.Version = 1
	return nil
}

// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByID(ctx context.Context, poolID string) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE pool_id = $1`

	row := s.pool.db(ctx).QueryRow(ctx, query, poolID)
	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by id: %w", err)
	}
	return p, nil
}

// Update persists a modified pool under the optimistic version check.
func (s *PoolStore) Update(ctx context.Context, p *domain.Pool) error {
	assets, investments, err := marshalPoolDocs(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE pools SET
			name = $2, status = $3, assets = $4, investments = $5,
			total_value = $6, token_supply = $7, token_price = $8,
			minimum_investment = $9, current_price = $10, total_invested = $11,
			total_investors = $12, external_token_ref = $13,
			treasury_address = $14, updated_at = $15, version = version + 1
		WHERE pool_id = $1 AND version = $16
	`

	tag, err := s.pool.db(ctx).Exec(ctx, query,
		p.PoolID,
		p.Name,
		string(p.Status),
		assets,
		investments,
		p.TotalValue,
		p.TokenSupply,
		p.TokenPrice,
		p.MinimumInvestment,
		p.CurrentPrice,
		p.TotalInvested,
		p.TotalInvestors,
		p.ExternalTokenRef,
		p.TreasuryAddress,
		p.UpdatedAt,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, p.PoolID)
	}

	p.Version++
	return nil
}

// classifyMissedUpdate distinguishes a stale version from a missing row.
func (s *PoolStore) classifyMissedUpdate(ctx context.Context, poolID string) error {
	var exists bool
	err := s.pool.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pools WHERE pool_id = $1)`, poolID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check pool existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

// ListByStatus retrieves all pools with the given status, ordered by created_at ASC.
func (s *PoolStore) ListByStatus(ctx context.Context, status domain.PoolStatus) ([]*domain.Pool, error) {
	query := `SELECT ` + poolColumns + `
		FROM pools
		WHERE status = $1
		ORDER BY created_at ASC, pool_id ASC
	`

	rows, err := s.pool.db(ctx).Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list pools by status: %w", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// List retrieves all pools, ordered by created_at ASC.
func (s *PoolStore) List(ctx context.Context) ([]*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools ORDER BY created_at ASC, pool_id ASC`

	rows, err := s.pool.db(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// marshalPoolDocs encodes the embedded JSONB documents.
func marshalPoolDocs(p *domain.Pool) (assets, investments []byte, err error) {
	assets, err = json.Marshal(p.Assets)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pool assets: %w", err)
	}
	investments, err = json.Marshal(p.Investments)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pool investments: %w", err)
	}
	return assets, investments, nil
}

// scanPool scans a single row into a Pool.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var statusStr string
	var assets, investments []byte

	err := row.Scan(
		&p.PoolID,
		&p.Name,
		&statusStr,
		&assets,
		&investments,
		&p.TotalValue,
		&p.TokenSupply,
		&p.TokenPrice,
		&p.MinimumInvestment,
		&p.CurrentPrice,
		&p.TotalInvested,
		&p.TotalInvestors,
		&p.ExternalTokenRef,
		&p.TreasuryAddress,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PoolStatus(statusStr)
	if err := json.Unmarshal(assets, &p.Assets); err != nil {
		return nil, fmt.Errorf("unmarshal pool assets: %w", err)
	}
	if err := json.Unmarshal(investments, &p.Investments); err != nil {
		return nil, fmt.Errorf("unmarshal pool investments: %w", err)
	}
	return &p, nil
}

// scanPools scans multiple rows into a slice of Pool.
func scanPools(rows pgx.Rows) ([]*domain.Pool, error) {
	var pools []*domain.Pool

	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}

	return pools, nil
}
