package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// SettlementJournalStore implements storage.SettlementJournalStore
// using PostgreSQL.
type SettlementJournalStore struct {
	pool *Pool
}

// NewSettlementJournalStore creates a new SettlementJournalStore.
func NewSettlementJournalStore(pool *Pool) *SettlementJournalStore {
	return &SettlementJournalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettlementJournalStore = (*SettlementJournalStore)(nil)

const settlementColumns = `
	entry_id, pool_id, operation, token_ref, from_address, to_address,
	amount, tokens, tx_id, status, attempts, last_error, created_at, updated_at
`

// Insert adds a new journal entry. Returns ErrDuplicateKey if entry_id exists.
func (s *SettlementJournalStore) Insert(ctx context.Context, e *domain.SettlementEntry) error {
	query := `
		INSERT INTO settlement_journal (
			entry_id, pool_id, operation, token_ref, from_address, to_address,
			amount, tokens, tx_id, status, attempts, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.db(ctx).Exec(ctx, query,
		e.EntryID,
		e.PoolID,
		string(e.Operation),
		e.TokenRef,
		e.FromAddress,
		e.ToAddress,
		e.Amount,
		e.Tokens,
		e.TxID,
		string(e.Status),
		e.Attempts,
		e.LastError,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry. Returns ErrNotFound if not exists.
func (s *SettlementJournalStore) GetByID(ctx context.Context, entryID string) (*domain.SettlementEntry, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_journal WHERE entry_id = $1`

	row := s.pool.db(ctx).QueryRow(ctx, query, entryID)
	e, err := scanSettlementEntry(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement entry by id: %w", err)
	}
	return e, nil
}

// Update overwrites an entry by its ID. Returns ErrNotFound if not exists.
func (s *SettlementJournalStore) Update(ctx context.Context, e *domain.SettlementEntry) error {
	query := `
		UPDATE settlement_journal SET
			token_ref = $2, tx_id = $3, status = $4, attempts = $5,
			last_error = $6, updated_at = $7
		WHERE entry_id = $1
	`

	tag, err := s.pool.db(ctx).Exec(ctx, query,
		e.EntryID,
		e.TokenRef,
		e.TxID,
		string(e.Status),
		e.Attempts,
		e.LastError,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update settlement entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus retrieves entries with the given status, ordered by created_at ASC.
func (s *SettlementJournalStore) ListByStatus(ctx context.Context, status domain.SettlementStatus) ([]*domain.SettlementEntry, error) {
	query := `SELECT ` + settlementColumns + `
		FROM settlement_journal
		WHERE status = $1
		ORDER BY created_at ASC, entry_id ASC
	`

	rows, err := s.pool.db(ctx).Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list settlement entries by status: %w", err)
	}
	defer rows.Close()

	var entries []*domain.SettlementEntry
	for rows.Next() {
		e, err := scanSettlementEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement entry rows: %w", err)
	}
	return entries, nil
}

// scanSettlementEntry scans a single row into a SettlementEntry.
func scanSettlementEntry(row pgx.Row) (*domain.SettlementEntry, error) {
	var e domain.SettlementEntry
	var operationStr, statusStr string

	err := row.Scan(
		&e.EntryID,
		&e.PoolID,
		&operationStr,
		&e.TokenRef,
		&e.FromAddress,
		&e.ToAddress,
		&e.Amount,
		&e.Tokens,
		&e.TxID,
		&statusStr,
		&e.Attempts,
		&e.LastError,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Operation = domain.SettlementOperation(operationStr)
	e.Status = domain.SettlementStatus(statusStr)
	return &e, nil
}
