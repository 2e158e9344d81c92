// Package eventstore persists anchored events as a content-addressed
// map. The core only ever asks for an event by hash or marks one
// processed/failed; durability, caching, and indexing live behind the
// Store contract.
package eventstore

import (
	"context"
	"errors"
	"time"
)

// Event is a stored anchored event plus its processing markers.
type Event struct {
	Hash               string `json:"hash"`
	ContentHash        string `json:"content_hash"`
	Payload            string `json:"payload"`
	BlockNum           int64  `json:"block_num"`
	BlockID            string `json:"block_id"`
	TrxID              string `json:"trx_id"`
	ActionOrdinal      int    `json:"action_ordinal"`
	Timestamp          int64  `json:"timestamp"`
	Source             string `json:"source"`
	ContractAccount    string `json:"contract_account"`
	ActionName         string `json:"action_name"`
	BlockchainVerified bool   `json:"blockchain_verified"`
	Processed          bool   `json:"processed"`
	Projected          bool   `json:"projected"`
	Failure            string `json:"failure,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

var (
	// ErrNotFound is returned by Get for an unknown hash.
	ErrNotFound = errors.New("eventstore: event not found")
	// ErrMissingHash is returned by Put for an event without a hash.
	ErrMissingHash = errors.New("eventstore: event has no hash")
)

// Store is a content-addressed event store. Put is idempotent: storing
// an event whose hash is already present leaves the stored copy
// untouched and is not an error.
type Store interface {
	Put(ctx context.Context, ev *Event) error
	Get(ctx context.Context, hash string) (*Event, error)

	// GetByContentHash returns the earliest stored event carrying the
	// content hash, or ErrNotFound. Dedup is defined over the content
	// hash, so this is the durable backstop for resubmissions whose
	// block metadata (and therefore event hash) differs.
	GetByContentHash(ctx context.Context, contentHash string) (*Event, error)

	// MarkProcessed flags the event as applied to the graph. projected
	// is false for accepted-but-descoped actions (vote, finalize).
	MarkProcessed(ctx context.Context, hash string, projected bool) error

	// MarkFailed records a permanent failure for inspection and retry.
	MarkFailed(ctx context.Context, hash, reason string) error

	Close() error
}
