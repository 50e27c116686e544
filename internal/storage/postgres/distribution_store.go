package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// DistributionStore implements storage.DistributionStore using
// PostgreSQL. Recipients and the audit trail are embedded documents
// stored as JSONB.
type DistributionStore struct {
	pool *Pool
}

// NewDistributionStore creates a new DistributionStore.
func NewDistributionStore(pool *Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributionStore = (*DistributionStore)(nil)

const distributionColumns = `
	distribution_id, pool_id, status, total_dividend_amount, per_token_rate,
	total_tokens_eligible, record_date, distribution_date, recipients,
	total_claimed, total_unclaimed, audit_trail, created_by, created_at,
	updated_at, version
`

// Insert adds a new distribution at version 1. Returns ErrDuplicateKey
// if distribution_id exists.
func (s *DistributionStore) Insert(ctx context.Context, d *domain.DividendDistribution) error {
	recipients, auditTrail, err := marshalDistributionDocs(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dividend_distributions (
			distribution_id, pool_id, status, total_dividend_amount, per_token_rate,
			total_tokens_eligible, record_date, distribution_date, recipients,
			total_claimed, total_unclaimed, audit_trail, created_by, created_at,
			updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
	`

	_, err = s.pool.db(ctx).Exec(ctx, query,
		d.DistributionID,
		d.PoolID,
		string(d.Status),
		d.TotalDividendAmount,
		d.PerTokenRate,
		d.TotalTokensEligible,
		d.RecordDate,
		d.DistributionDate,
		recipients,
		d.TotalClaimed,
		d.TotalUnclaimed,
		auditTrail,
		d.CreatedBy,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert distribution: %w", err)
	}

	d.Version = 1
	return nil
}

// GetByID retrieves a distribution. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(ctx context.Context, distributionID string) (*domain.DividendDistribution, error) {
	query := `SELECT ` + distributionColumns + ` FROM dividend_distributions WHERE distribution_id = $1`

	row := s.pool.db(ctx).QueryRow(ctx, query, distributionID)
	d, err := scanDistribution(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution by id: %w", err)
	}
	return d, nil
}

// Update persists a modified distribution under the optimistic version check.
func (s *DistributionStore) Update(ctx context.Context, d *domain.DividendDistribution) error {
	recipients, auditTrail, err := marshalDistributionDocs(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE dividend_distributions SET
			status = $2, recipients = $3, total_claimed = $4,
			total_unclaimed = $5, audit_trail = $6, updated_at = $7,
			version = version + 1
		WHERE distribution_id = $1 AND version = $8
	`

	tag, err := s.pool.db(ctx).Exec(ctx, query,
		d.DistributionID,
		string(d.Status),
		recipients,
		d.TotalClaimed,
		d.TotalUnclaimed,
		auditTrail,
		d.UpdatedAt,
		d.Version,
	)
	if err != nil {
		return fmt.Errorf("update distribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, d.DistributionID)
	}

	d.Version++
	return nil
}

// classifyMissedUpdate distinguishes a stale version from a missing row.
func (s *DistributionStore) classifyMissedUpdate(ctx context.Context, distributionID string) error {
	var exists bool
	err := s.pool.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dividend_distributions WHERE distribution_id = $1)`,
		distributionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check distribution existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

// ListByPool retrieves all distributions of a pool, ordered by created_at ASC.
func (s *DistributionStore) ListByPool(ctx context.Context, poolID string) ([]*domain.DividendDistribution, error) {
	query := `SELECT ` + distributionColumns + `
		FROM dividend_distributions
		WHERE pool_id = $1
		ORDER BY created_at ASC, distribution_id ASC
	`

	rows, err := s.pool.db(ctx).Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("list distributions by pool: %w", err)
	}
	defer rows.Close()

	var distributions []*domain.DividendDistribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution row: %w", err)
		}
		distributions = append(distributions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution rows: %w", err)
	}
	return distributions, nil
}

// marshalDistributionDocs encodes the embedded JSONB documents.
func marshalDistributionDocs(d *domain.DividendDistribution) (recipients, auditTrail []byte, err error) {
	recipients, err = json.Marshal(d.Recipients)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal distribution recipients: %w", err)
	}
	auditTrail, err = json.Marshal(d.AuditTrail)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal distribution audit trail: %w", err)
	}
	return recipients, auditTrail, nil
}

// scanDistribution scans a single row into a DividendDistribution.
func scanDistribution(row pgx.Row) (*domain.DividendDistribution, error) {
	var d domain.DividendDistribution
	var statusStr string
	var recipients, auditTrail []byte

	err := row.Scan(
		&d.DistributionID,
		&d.PoolID,
		&statusStr,
		&d.TotalDividendAmount,
		&d.PerTokenRate,
		&d.TotalTokensEligible,
		&d.RecordDate,
		&d.DistributionDate,
		&recipients,
		&d.TotalClaimed,
		&d.TotalUnclaimed,
		&auditTrail,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}

	d.Status = domain.DistributionStatus(statusStr)
	if err := json.Unmarshal(recipients, &d.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal distribution recipients: %w", err)
	}
	if err := json.Unmarshal(auditTrail, &d.AuditTrail); err != nil {
		return nil, fmt.Errorf("unmarshal distribution audit trail: %w", err)
	}
	return &d, nil
}
