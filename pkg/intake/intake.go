// Package intake accepts blockchain-anchored events, deduplicates them
// by content hash, persists them, and dispatches each to the projector,
// claim engine, or merge engine inside one graph transaction. Replaying
// a processed hash is a no-op.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/waxworks/discograph/pkg/bundle"
	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/claims"
	"github.com/waxworks/discograph/pkg/eventstore"
	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/identity"
	"github.com/waxworks/discograph/pkg/merge"
	"github.com/waxworks/discograph/pkg/observability"
	"github.com/waxworks/discograph/pkg/projector"
	"github.com/waxworks/discograph/pkg/roles"
)

// AnchoredEvent is the wire shape produced by the chain indexer.
type AnchoredEvent struct {
	ContentHash     string `json:"content_hash"`
	EventHash       string `json:"event_hash,omitempty"`
	Payload         string `json:"payload"`
	BlockNum        int64  `json:"block_num"`
	BlockID         string `json:"block_id"`
	TrxID           string `json:"trx_id"`
	ActionOrdinal   int    `json:"action_ordinal"`
	Timestamp       int64  `json:"timestamp"`
	Source          string `json:"source"`
	ContractAccount string `json:"contract_account"`
	ActionName      string `json:"action_name"`
	Signature       string `json:"signature,omitempty"`
}

// Status classifies what Handle did with an event.
type Status string

const (
	StatusProcessed Status = "processed" // dispatched and committed
	StatusStored    Status = "stored"    // accepted but de-scoped (vote, finalize)
	StatusDuplicate Status = "duplicate" // content hash already processed
	StatusFailed    Status = "failed"
)

// Result reports the outcome of one anchored event.
type Result struct {
	Status      Status
	ContentHash string
	EventHash   string
	ReleaseID   string // set for CREATE_RELEASE_BUNDLE
}

var (
	// ErrUnknownAction rejects action names outside the accepted set.
	ErrUnknownAction = errors.New("intake: unknown action name")
	// ErrBadPayload rejects events whose payload cannot be classified.
	ErrBadPayload = errors.New("intake: payload cannot be classified")
	// ErrMissingContentHash rejects events without a content hash.
	ErrMissingContentHash = errors.New("intake: event has no content hash")
)

type eventType string

const (
	eventCreateRelease eventType = "CREATE_RELEASE_BUNDLE"
	eventAddClaim      eventType = "ADD_CLAIM"
	eventEditClaim     eventType = "EDIT_CLAIM"
	eventMergeEntity   eventType = "MERGE_ENTITY"
	eventVote          eventType = "VOTE"
	eventFinalize      eventType = "FINALIZE"
)

// Intake wires the engines together behind the anchored-event entry
// point. Safe for concurrent use.
type Intake struct {
	graph      graph.Store
	events     eventstore.Store
	normalizer *bundle.Normalizer
	validator  *bundle.Validator
	projector  *projector.Engine
	claims     *claims.Engine
	merges     *merge.Engine
	dedup      *dedupSet
	obs        *observability.Provider
	log        *slog.Logger
	maxRetry   time.Duration
}

// Option tunes an Intake.
type Option func(*Intake)

// WithMaxRetry bounds transient-error retries (default 30s).
func WithMaxRetry(d time.Duration) Option {
	return func(i *Intake) { i.maxRetry = d }
}

// WithDedupCapacity sizes the in-process dedup set.
func WithDedupCapacity(n int) Option {
	return func(i *Intake) { i.dedup = newDedupSet(n) }
}

// New builds the intake over a graph store and event store.
func New(gs graph.Store, es eventstore.Store, rn *roles.Normalizer, obs *observability.Provider, log *slog.Logger, opts ...Option) (*Intake, error) {
	if log == nil {
		log = slog.Default()
	}
	if rn == nil {
		rn = roles.NewNormalizer()
	}
	v, err := bundle.NewValidator()
	if err != nil {
		return nil, err
	}
	ce := claims.NewEngine(log)
	i := &Intake{
		graph:      gs,
		events:     es,
		normalizer: bundle.NewNormalizer(rn),
		validator:  v,
		projector:  projector.New(rn, ce, log),
		claims:     ce,
		merges:     merge.NewEngine(log),
		dedup:      newDedupSet(0),
		obs:        obs,
		log:        log.With("component", "intake"),
		maxRetry:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// EventHash computes the deterministic hash of an anchored event over
// its canonicalized non-signature fields.
func EventHash(ev *AnchoredEvent) (string, error) {
	return canonical.Hash(map[string]any{
		"content_hash":     ev.ContentHash,
		"payload":          ev.Payload,
		"block_num":        ev.BlockNum,
		"block_id":         ev.BlockID,
		"trx_id":           ev.TrxID,
		"action_ordinal":   ev.ActionOrdinal,
		"timestamp":        ev.Timestamp,
		"source":           ev.Source,
		"contract_account": ev.ContractAccount,
		"action_name":      ev.ActionName,
	})
}

// Handle processes one anchored event end to end. Duplicate content
// hashes return StatusDuplicate without touching the graph.
func (i *Intake) Handle(ctx context.Context, ev AnchoredEvent) (Result, error) {
	if ev.ContentHash == "" {
		return Result{Status: StatusFailed}, ErrMissingContentHash
	}
	if i.dedup.Seen(ev.ContentHash) {
		i.obs.RecordDuplicate(ctx)
		return Result{Status: StatusDuplicate, ContentHash: ev.ContentHash, EventHash: ev.EventHash}, nil
	}

	eventHash := ev.EventHash
	if eventHash == "" {
		var err error
		eventHash, err = EventHash(&ev)
		if err != nil {
			return Result{Status: StatusFailed, ContentHash: ev.ContentHash}, err
		}
	}
	res := Result{ContentHash: ev.ContentHash, EventHash: eventHash}

	// The store's processed marker survives dedup-set eviction and
	// restarts. Dedup is keyed on the content hash: a resubmission with
	// different block metadata hashes to a different event but is still
	// the same content.
	if stored, err := i.events.GetByContentHash(ctx, ev.ContentHash); err == nil && stored.Processed {
		i.dedup.Add(ev.ContentHash)
		i.obs.RecordDuplicate(ctx)
		res.Status = StatusDuplicate
		res.EventHash = stored.Hash
		return res, nil
	}

	ctx, done := i.obs.TrackEvent(ctx, ev.ActionName)
	var handleErr error
	defer func() { done(handleErr) }()

	et, err := classify(ev.ActionName, []byte(ev.Payload))
	if err != nil {
		handleErr = err
		res.Status = StatusFailed
		i.obs.RecordFailed(ctx, err)
		return res, err
	}

	if err := i.events.Put(ctx, &eventstore.Event{
		Hash:               eventHash,
		ContentHash:        ev.ContentHash,
		Payload:            ev.Payload,
		BlockNum:           ev.BlockNum,
		BlockID:            ev.BlockID,
		TrxID:              ev.TrxID,
		ActionOrdinal:      ev.ActionOrdinal,
		Timestamp:          ev.Timestamp,
		Source:             ev.Source,
		ContractAccount:    ev.ContractAccount,
		ActionName:         ev.ActionName,
		BlockchainVerified: true,
		ReceivedAt:         time.Now().UTC(),
	}); err != nil {
		handleErr = err
		res.Status = StatusFailed
		return res, err
	}

	if et == eventVote || et == eventFinalize {
		if err := i.events.MarkProcessed(ctx, eventHash, false); err != nil {
			handleErr = err
			res.Status = StatusFailed
			return res, err
		}
		i.dedup.Add(ev.ContentHash)
		i.obs.RecordAccepted(ctx, ev.ActionName)
		res.Status = StatusStored
		return res, nil
	}

	at := time.Now()
	if ms := projector.NormalizeTimestamp(ev.Timestamp); ms > 0 {
		at = time.UnixMilli(ms)
	}

	var releaseID string
	op := func() error {
		return i.graph.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			releaseID, err = i.dispatch(ctx, tx, et, eventHash, []byte(ev.Payload), at)
			if err != nil && isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		})
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = i.maxRetry
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		handleErr = err
		if merr := i.events.MarkFailed(ctx, eventHash, err.Error()); merr != nil {
			i.log.ErrorContext(ctx, "failed to record event failure", "event_hash", eventHash, "error", merr)
		}
		i.obs.RecordFailed(ctx, err)
		i.log.WarnContext(ctx, "event failed",
			"event_hash", eventHash, "action", ev.ActionName, "error", err)
		res.Status = StatusFailed
		return res, err
	}

	// Dedup commit happens only after the transaction committed, so a
	// cancelled event leaves no trace and can be resubmitted.
	if err := i.events.MarkProcessed(ctx, eventHash, true); err != nil {
		handleErr = err
		res.Status = StatusFailed
		return res, err
	}
	i.dedup.Add(ev.ContentHash)
	i.obs.RecordAccepted(ctx, ev.ActionName)

	res.Status = StatusProcessed
	res.ReleaseID = releaseID
	return res, nil
}

// Replay re-dispatches a stored event by hash, producing an identical
// graph state.
func (i *Intake) Replay(ctx context.Context, eventHash string) (Result, error) {
	stored, err := i.events.Get(ctx, eventHash)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	res := Result{ContentHash: stored.ContentHash, EventHash: eventHash}

	et, err := classify(stored.ActionName, []byte(stored.Payload))
	if err != nil {
		return res, err
	}
	if et == eventVote || et == eventFinalize {
		res.Status = StatusStored
		return res, nil
	}

	at := time.Now()
	if ms := projector.NormalizeTimestamp(stored.Timestamp); ms > 0 {
		at = time.UnixMilli(ms)
	}
	err = i.graph.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		var err error
		res.ReleaseID, err = i.dispatch(ctx, tx, et, eventHash, []byte(stored.Payload), at)
		return err
	})
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	res.Status = StatusProcessed
	return res, nil
}

// envelope is the generic payload wrapper. Specific request shapes are
// decoded lazily once the event type is known.
type envelope struct {
	Type      string          `json:"type"`
	Submitter string          `json:"submitter"`
	Author    string          `json:"author"`
	Bundle    json.RawMessage `json:"bundle"`
}

func classify(actionName string, payload []byte) (eventType, error) {
	switch actionName {
	case "put":
	case "vote":
		return eventVote, nil
	case "finalize":
		return eventFinalize, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, actionName)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if raw, ok := probe["type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil {
			switch eventType(t) {
			case eventCreateRelease, eventAddClaim, eventEditClaim, eventMergeEntity:
				return eventType(t), nil
			}
		}
	}

	// Shape discrimination for untyped payloads.
	switch {
	case has(probe, "claim_id") && has(probe, "value"):
		return eventEditClaim, nil
	case has(probe, "target") && has(probe, "field"):
		return eventAddClaim, nil
	case has(probe, "target_id") && (has(probe, "source_id") || has(probe, "absorbed_ids")):
		return eventMergeEntity, nil
	case has(probe, "release") || has(probe, "bundle"):
		return eventCreateRelease, nil
	}
	return "", fmt.Errorf("%w: no recognizable shape", ErrBadPayload)
}

func has(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

func (i *Intake) dispatch(ctx context.Context, tx graph.Tx, et eventType, eventHash string, payload []byte, at time.Time) (string, error) {
	var env envelope
	_ = json.Unmarshal(payload, &env)
	author := env.Author
	if author == "" {
		author = env.Submitter
	}

	switch et {
	case eventCreateRelease:
		raw := payload
		if len(env.Bundle) > 0 {
			raw = env.Bundle
		}
		b, diags, err := i.normalizer.Normalize(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if diags.HasErrors() {
			return "", diags
		}
		if verr := i.validator.Validate(b); verr != nil {
			return "", verr
		}
		releaseID, _, err := i.projector.ProjectBundle(ctx, tx, eventHash, b, env.Submitter, at.UnixMilli())
		return releaseID, err

	case eventAddClaim:
		var req claims.AddRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		_, err := i.claims.AddClaim(ctx, tx, eventHash, req, author, at)
		return "", err

	case eventEditClaim:
		var req claims.EditRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		_, err := i.claims.EditClaim(ctx, tx, eventHash, req, author, at)
		return "", err

	case eventMergeEntity:
		var req merge.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		_, err := i.merges.MergeEntities(ctx, tx, eventHash, req, author, at)
		return "", err
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, et)
}

// isPermanent classifies deterministic failures that retrying cannot
// fix.
func isPermanent(err error) bool {
	var ve *bundle.ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	for _, sentinel := range []error{
		ErrUnknownAction, ErrBadPayload,
		claims.ErrUnknownKind, claims.ErrProtectedField,
		claims.ErrUnsafeFieldName, claims.ErrClaimNotFound,
		merge.ErrUnknownKind, merge.ErrSelfMerge, merge.ErrAlreadyMerged,
		merge.ErrSourceMissing, merge.ErrTargetMissing,
		identity.ErrUnresolvable,
		graph.ErrConstraint, graph.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
