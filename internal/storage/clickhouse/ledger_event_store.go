package clickhouse

import (
	"context"
	"fmt"

	"rwa-pool-ledger/internal/domain"
	"rwa-pool-ledger/internal/storage"
)

// LedgerEventStore implements storage.LedgerEventStore using
// ClickHouse. The journal is analytics-grade: MergeTree does not
// enforce uniqueness and duplicate event IDs are tolerated.
type LedgerEventStore struct {
	conn *Conn
}

// NewLedgerEventStore creates a new LedgerEventStore.
func NewLedgerEventStore(conn *Conn) *LedgerEventStore {
	return &LedgerEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)

// Append adds one event to the journal.
func (s *LedgerEventStore) Append(ctx context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ledger_events (
			event_id, pool_id, holder_addr, counterparty, event_type,
			tokens, amount, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		e.EventID,
		e.PoolID,
		e.HolderAddr,
		e.Counterparty,
		string(e.Type),
		e.Tokens,
		e.Amount,
		uint64(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}
	return nil
}

// GetByPool retrieves all events of a pool, ordered by timestamp ASC.
func (s *LedgerEventStore) GetByPool(ctx context.Context, poolID string) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT event_id, pool_id, holder_addr, counterparty, event_type,
			tokens, amount, timestamp_ms
		FROM ledger_events
		WHERE pool_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query ledger events by pool: %w", err)
	}
	defer rows.Close()

	var events []*domain.LedgerEvent
	for rows.Next() {
		var e domain.LedgerEvent
		var eventType string
		var timestamp uint64

		err := rows.Scan(
			&e.EventID,
			&e.PoolID,
			&e.HolderAddr,
			&e.Counterparty,
			&eventType,
			&e.Tokens,
			&e.Amount,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event row: %w", err)
		}

		e.Type = domain.LedgerEventType(eventType)
		e.Timestamp = int64(timestamp)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger event rows: %w", err)
	}

	return events, nil
}
