package eventstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Postgres is the production event store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps db and runs the schema migration.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	s := &Postgres{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to the event store at dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open postgres: %w", err)
	}
	return NewPostgres(db)
}

func (s *Postgres) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        hash TEXT PRIMARY KEY,
        content_hash TEXT NOT NULL,
        payload TEXT NOT NULL,
        block_num BIGINT NOT NULL DEFAULT 0,
        block_id TEXT NOT NULL DEFAULT '',
        trx_id TEXT NOT NULL DEFAULT '',
        action_ordinal INTEGER NOT NULL DEFAULT 0,
        timestamp BIGINT NOT NULL DEFAULT 0,
        source TEXT NOT NULL DEFAULT '',
        contract_account TEXT NOT NULL DEFAULT '',
        action_name TEXT NOT NULL DEFAULT '',
        blockchain_verified BOOLEAN NOT NULL DEFAULT FALSE,
        processed BOOLEAN NOT NULL DEFAULT FALSE,
        projected BOOLEAN NOT NULL DEFAULT FALSE,
        failure TEXT NOT NULL DEFAULT '',
        received_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS idx_events_content_hash ON events(content_hash);
    CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Postgres) Put(ctx context.Context, ev *Event) error {
	if ev.Hash == "" {
		return ErrMissingHash
	}
	query := `INSERT INTO events (
        hash, content_hash, payload, block_num, block_id, trx_id,
        action_ordinal, timestamp, source, contract_account, action_name,
        blockchain_verified, processed, projected, failure, received_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    ON CONFLICT (hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		ev.Hash, ev.ContentHash, ev.Payload, ev.BlockNum, ev.BlockID, ev.TrxID,
		ev.ActionOrdinal, ev.Timestamp, ev.Source, ev.ContractAccount, ev.ActionName,
		ev.BlockchainVerified, ev.Processed, ev.Projected, ev.Failure, ev.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("eventstore: insert event: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, hash string) (*Event, error) {
	return s.queryOne(ctx, `WHERE hash = $1`, hash)
}

func (s *Postgres) GetByContentHash(ctx context.Context, contentHash string) (*Event, error) {
	return s.queryOne(ctx, `WHERE content_hash = $1 ORDER BY received_at LIMIT 1`, contentHash)
}

func (s *Postgres) queryOne(ctx context.Context, where string, arg any) (*Event, error) {
	query := `
        SELECT hash, content_hash, payload, block_num, block_id, trx_id,
               action_ordinal, timestamp, source, contract_account, action_name,
               blockchain_verified, processed, projected, failure, received_at
        FROM events ` + where
	row := s.db.QueryRowContext(ctx, query, arg)

	var ev Event
	err := row.Scan(&ev.Hash, &ev.ContentHash, &ev.Payload, &ev.BlockNum, &ev.BlockID, &ev.TrxID,
		&ev.ActionOrdinal, &ev.Timestamp, &ev.Source, &ev.ContractAccount, &ev.ActionName,
		&ev.BlockchainVerified, &ev.Processed, &ev.Projected, &ev.Failure, &ev.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: query event: %w", err)
	}
	return &ev, nil
}

func (s *Postgres) MarkProcessed(ctx context.Context, hash string, projected bool) error {
	return s.exec(ctx,
		`UPDATE events SET processed = TRUE, projected = $1, failure = '' WHERE hash = $2`,
		projected, hash)
}

func (s *Postgres) MarkFailed(ctx context.Context, hash, reason string) error {
	return s.exec(ctx, `UPDATE events SET failure = $1 WHERE hash = $2`, reason, hash)
}

func (s *Postgres) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("eventstore: update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Close() error { return s.db.Close() }

var _ Store = (*Postgres)(nil)
