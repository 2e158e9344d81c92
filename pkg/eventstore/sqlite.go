package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the dev/CI event store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps db and runs the schema migration.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) a sqlite event store at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite: %w", err)
	}
	return NewSQLite(db)
}

func (s *SQLite) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        hash TEXT PRIMARY KEY,
        content_hash TEXT NOT NULL,
        payload TEXT NOT NULL,
        block_num INTEGER NOT NULL DEFAULT 0,
        block_id TEXT NOT NULL DEFAULT '',
        trx_id TEXT NOT NULL DEFAULT '',
        action_ordinal INTEGER NOT NULL DEFAULT 0,
        timestamp INTEGER NOT NULL DEFAULT 0,
        source TEXT NOT NULL DEFAULT '',
        contract_account TEXT NOT NULL DEFAULT '',
        action_name TEXT NOT NULL DEFAULT '',
        blockchain_verified INTEGER NOT NULL DEFAULT 0,
        processed INTEGER NOT NULL DEFAULT 0,
        projected INTEGER NOT NULL DEFAULT 0,
        failure TEXT NOT NULL DEFAULT '',
        received_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_events_content_hash ON events(content_hash);
    CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLite) Put(ctx context.Context, ev *Event) error {
	if ev.Hash == "" {
		return ErrMissingHash
	}
	query := `INSERT INTO events (
        hash, content_hash, payload, block_num, block_id, trx_id,
        action_ordinal, timestamp, source, contract_account, action_name,
        blockchain_verified, processed, projected, failure, received_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		ev.Hash, ev.ContentHash, ev.Payload, ev.BlockNum, ev.BlockID, ev.TrxID,
		ev.ActionOrdinal, ev.Timestamp, ev.Source, ev.ContractAccount, ev.ActionName,
		ev.BlockchainVerified, ev.Processed, ev.Projected, ev.Failure,
		ev.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("eventstore: insert event: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, hash string) (*Event, error) {
	return s.queryOne(ctx, `WHERE hash = ?`, hash)
}

func (s *SQLite) GetByContentHash(ctx context.Context, contentHash string) (*Event, error) {
	return s.queryOne(ctx, `WHERE content_hash = ? ORDER BY received_at LIMIT 1`, contentHash)
}

func (s *SQLite) queryOne(ctx context.Context, where string, arg any) (*Event, error) {
	query := `
        SELECT hash, content_hash, payload, block_num, block_id, trx_id,
               action_ordinal, timestamp, source, contract_account, action_name,
               blockchain_verified, processed, projected, failure, received_at
        FROM events ` + where
	row := s.db.QueryRowContext(ctx, query, arg)

	var (
		ev         Event
		receivedAt string
	)
	err := row.Scan(&ev.Hash, &ev.ContentHash, &ev.Payload, &ev.BlockNum, &ev.BlockID, &ev.TrxID,
		&ev.ActionOrdinal, &ev.Timestamp, &ev.Source, &ev.ContractAccount, &ev.ActionName,
		&ev.BlockchainVerified, &ev.Processed, &ev.Projected, &ev.Failure, &receivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: query event: %w", err)
	}
	ev.ReceivedAt = parseTime(receivedAt)
	return &ev, nil
}

func (s *SQLite) MarkProcessed(ctx context.Context, hash string, projected bool) error {
	return s.exec(ctx,
		`UPDATE events SET processed = 1, projected = ?, failure = '' WHERE hash = ?`,
		projected, hash)
}

func (s *SQLite) MarkFailed(ctx context.Context, hash, reason string) error {
	return s.exec(ctx, `UPDATE events SET failure = ? WHERE hash = ?`, reason, hash)
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("eventstore: update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

var _ Store = (*SQLite)(nil)
