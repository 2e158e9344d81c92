// Package claims is the append-only audit trail. A claim records that a
// field of a node took a value at an event; edits never mutate a claim,
// they supersede it with a new one. Claim ids derive from the event
// hash, so replaying an event reproduces the exact same chain.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/identity"
)

var (
	// ErrUnknownKind rejects claims against kinds outside the whitelist.
	ErrUnknownKind = errors.New("claims: unknown target kind")
	// ErrProtectedField rejects claims against engine-owned fields.
	ErrProtectedField = errors.New("claims: protected field")
	// ErrUnsafeFieldName rejects field names that are not plain
	// identifiers.
	ErrUnsafeFieldName = errors.New("claims: unsafe field name")
	// ErrClaimNotFound is returned by EditClaim for a missing claim id.
	ErrClaimNotFound = errors.New("claims: claim not found")
)

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// protectedFields are engine-owned; claims may never target them. The
// per-kind id field (person_id, …) is checked separately.
var protectedFields = map[string]bool{
	"id":                  true,
	"claim_id":            true,
	"source_id":           true,
	"created_at":          true,
	"created_by":          true,
	"creation_source":     true,
	"event_hash":          true,
	"updated_at":          true,
	"updated_by":          true,
	"last_updated":        true,
	"last_updated_by":     true,
	"last_seen_at":        true,
	"status":              true,
	"blockchain_verified": true,
	"_just_created":       true,
	"_merged_into":        true,
	"merged_into":         true,
	"merge_event_hash":    true,
	"id_kind":             true,
}

// Target names the node a claim is about.
type Target struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// SourceRef optionally backs a claim with an external source.
type SourceRef struct {
	URL        string `json:"url"`
	Type       string `json:"type,omitempty"`
	AccessedAt string `json:"accessed_at,omitempty"`
}

// AddRequest is the payload of an ADD_CLAIM event.
type AddRequest struct {
	Target Target     `json:"target"`
	Field  string     `json:"field"`
	Value  any        `json:"value"`
	Source *SourceRef `json:"source,omitempty"`
}

// EditRequest is the payload of an EDIT_CLAIM event.
type EditRequest struct {
	ClaimID string     `json:"claim_id"`
	Value   any        `json:"value"`
	Source  *SourceRef `json:"source,omitempty"`
}

// Engine applies claim events inside a caller-owned transaction.
type Engine struct {
	resolver identity.Resolver
	log      *slog.Logger
}

// NewEngine builds a claim engine.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With("component", "claims")}
}

// checkField enforces the field-safety rules for kind.
func checkField(kind identity.Kind, field string) (string, error) {
	trimmed := strings.TrimSpace(field)
	lower := strings.ToLower(trimmed)
	if protectedFields[lower] || lower == kind.IDField() {
		return "", fmt.Errorf("%w: Invalid claim field: '%s' is protected", ErrProtectedField, lower)
	}
	if !fieldNameRe.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFieldName, field)
	}
	return trimmed, nil
}

// checkKind enforces the claim-target whitelist, case-insensitively.
func checkKind(raw string) (identity.Kind, error) {
	kind, err := identity.ParseKind(raw)
	if err != nil || !kind.Claimable() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return kind, nil
}

// NormalizeValue converts an arbitrary JSON value into what the graph
// stores: primitives and homogeneous primitive lists pass through,
// anything else is serialized to a canonical JSON string.
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int, int64, float64:
		return t, nil
	case []any:
		if homogeneousPrimitives(t) {
			return t, nil
		}
	case []string, []int64, []float64, []bool:
		return t, nil
	}
	raw, err := canonical.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("claims: serialize value: %w", err)
	}
	return string(raw), nil
}

func homogeneousPrimitives(list []any) bool {
	var kind string
	for _, e := range list {
		var k string
		switch e.(type) {
		case string:
			k = "s"
		case bool:
			k = "b"
		case int, int64, float64:
			k = "n"
		default:
			return false
		}
		if kind == "" {
			kind = k
		} else if kind != k {
			return false
		}
	}
	return true
}

// AddClaim applies an ADD_CLAIM event: mints the deterministic claim,
// links it to its target, and writes the new field value onto the node.
// Replay is a no-op beyond re-merging identical state.
func (e *Engine) AddClaim(ctx context.Context, tx graph.Tx, eventHash string, req AddRequest, author string, at time.Time) (string, error) {
	kind, err := checkKind(req.Target.Kind)
	if err != nil {
		return "", err
	}
	field, err := checkField(kind, req.Field)
	if err != nil {
		return "", err
	}

	targetID, err := e.resolver.ResolveLive(ctx, tx, kind, req.Target.ID)
	if err != nil {
		return "", err
	}
	if _, err := tx.GetNode(ctx, kind.Label(), "id", targetID); err != nil {
		return "", fmt.Errorf("claims: target %s/%s: %w", kind, targetID, err)
	}

	value, err := NormalizeValue(req.Value)
	if err != nil {
		return "", err
	}

	claimID := canonical.OpHash(eventHash, 0)
	if _, err := tx.UpsertNode(ctx, "Claim", "claim_id", claimID, graph.Props{
		"node_type":  string(kind),
		"node_id":    targetID,
		"field":      field,
		"value":      value,
		"event_hash": eventHash,
		"created_at": at.UnixMilli(),
		"created_by": author,
	}); err != nil {
		return "", err
	}

	if err := tx.UpsertEdge(ctx, "CLAIMS_ABOUT",
		graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: claimID},
		graph.ByID(kind.Label(), targetID), nil, nil); err != nil {
		return "", err
	}

	if err := tx.SetNodeProps(ctx, kind.Label(), "id", targetID, graph.Props{field: value}); err != nil {
		return "", err
	}

	if req.Source != nil {
		if err := e.linkSource(ctx, tx, claimID, *req.Source); err != nil {
			return "", err
		}
	}
	e.log.DebugContext(ctx, "claim added",
		"claim_id", claimID, "kind", kind, "node_id", targetID, "field", field)
	return claimID, nil
}

// EditClaim applies an EDIT_CLAIM event: a new claim supersedes the old
// one and the target node moves to the new value. The old claim is
// never deleted.
func (e *Engine) EditClaim(ctx context.Context, tx graph.Tx, eventHash string, req EditRequest, author string, at time.Time) (string, error) {
	old, err := tx.GetNode(ctx, "Claim", "claim_id", req.ClaimID)
	if errors.Is(err, graph.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrClaimNotFound, req.ClaimID)
	}
	if err != nil {
		return "", err
	}

	kindRaw, _ := old["node_type"].(string)
	nodeID, _ := old["node_id"].(string)
	field, _ := old["field"].(string)

	kind, err := checkKind(kindRaw)
	if err != nil {
		return "", err
	}
	if field, err = checkField(kind, field); err != nil {
		return "", err
	}

	targetID, err := e.resolver.ResolveLive(ctx, tx, kind, nodeID)
	if err != nil {
		return "", err
	}

	value, err := NormalizeValue(req.Value)
	if err != nil {
		return "", err
	}

	newID := canonical.OpHash(eventHash, 0)
	if _, err := tx.UpsertNode(ctx, "Claim", "claim_id", newID, graph.Props{
		"node_type":  string(kind),
		"node_id":    targetID,
		"field":      field,
		"value":      value,
		"event_hash": eventHash,
		"created_at": at.UnixMilli(),
		"created_by": author,
	}); err != nil {
		return "", err
	}

	newRef := graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: newID}
	oldRef := graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: req.ClaimID}
	if err := tx.UpsertEdge(ctx, "CLAIMS_ABOUT", newRef, graph.ByID(kind.Label(), targetID), nil, nil); err != nil {
		return "", err
	}
	if err := tx.UpsertEdge(ctx, "SUPERSEDES", newRef, oldRef, nil, nil); err != nil {
		return "", err
	}
	if err := tx.SetNodeProps(ctx, "Claim", "claim_id", req.ClaimID, graph.Props{
		"superseded_by": newID,
		"superseded_at": at.UnixMilli(),
	}); err != nil {
		return "", err
	}

	if err := tx.SetNodeProps(ctx, kind.Label(), "id", targetID, graph.Props{field: value}); err != nil {
		return "", err
	}

	if req.Source != nil {
		if err := e.linkSource(ctx, tx, newID, *req.Source); err != nil {
			return "", err
		}
	}
	e.log.DebugContext(ctx, "claim superseded",
		"old_claim_id", req.ClaimID, "new_claim_id", newID, "field", field)
	return newID, nil
}

// RecordCreation writes the audit claim the projector attaches to each
// entity it creates: the serialized source payload under a
// deterministic claim id.
func (e *Engine) RecordCreation(ctx context.Context, tx graph.Tx, claimID string, kind identity.Kind, nodeID string, payload any, author, eventHash string, at time.Time) error {
	value, err := NormalizeValue(payload)
	if err != nil {
		return err
	}
	if _, err := tx.UpsertNode(ctx, "Claim", "claim_id", claimID, graph.Props{
		"node_type":  string(kind),
		"node_id":    nodeID,
		"field":      "created",
		"value":      value,
		"event_hash": eventHash,
		"created_at": at.UnixMilli(),
		"created_by": author,
	}); err != nil {
		return err
	}
	return tx.UpsertEdge(ctx, "CLAIMS_ABOUT",
		graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: claimID},
		graph.ByID(kind.Label(), nodeID), nil, nil)
}

func (e *Engine) linkSource(ctx context.Context, tx graph.Tx, claimID string, src SourceRef) error {
	fp := identity.SourceFingerprint(src.URL)
	sourceID, err := identity.MakeProvisionalID(identity.KindSource, fp)
	if err != nil {
		return err
	}
	if _, err := tx.UpsertNode(ctx, "Source", "source_id", sourceID, graph.Props{
		"id":          sourceID,
		"url":         src.URL,
		"type":        src.Type,
		"accessed_at": src.AccessedAt,
	}); err != nil {
		return err
	}
	return tx.UpsertEdge(ctx, "SOURCED_FROM",
		graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: claimID},
		graph.NodeRef{Label: "Source", IDField: "source_id", ID: sourceID}, nil, nil)
}
