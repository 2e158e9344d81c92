// Package merge folds duplicate entities together. The source node is
// never deleted: its relationships and missing attributes move to the
// target, then the source becomes a tombstone pointing at the survivor
// so stale references keep resolving.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/identity"
)

var (
	// ErrUnknownKind rejects merges on kinds outside the whitelist.
	ErrUnknownKind = errors.New("merge: unknown entity kind")
	// ErrSelfMerge rejects merging an entity into itself, directly or
	// through an existing tombstone chain.
	ErrSelfMerge = errors.New("merge: source and target are the same entity")
	// ErrSourceMissing is returned when the source node does not exist.
	ErrSourceMissing = errors.New("merge: source entity not found")
	// ErrTargetMissing is returned when the target node does not exist.
	ErrTargetMissing = errors.New("merge: target entity not found")
	// ErrAlreadyMerged is returned when the source is already a tombstone
	// pointing somewhere other than the requested target.
	ErrAlreadyMerged = errors.New("merge: source already merged into a different entity")
)

// engine-owned properties never copied from source to target.
var internalProps = map[string]bool{
	"id":               true,
	"status":           true,
	"merged_into":      true,
	"merge_event_hash": true,
	"merged_at":        true,
	"created_at":       true,
	"created_by":       true,
	"creation_source":  true,
	"event_hash":       true,
	"updated_at":       true,
	"updated_by":       true,
	"id_kind":          true,
}

// Request is the payload of a MERGE_ENTITY event. TargetID is the
// survivor. A single absorbed entity goes in SourceID; a batch goes in
// AbsorbedIDs (SourceID is then ignored).
type Request struct {
	Kind        string   `json:"kind"`
	SourceID    string   `json:"source_id,omitempty"`
	TargetID    string   `json:"target_id"`
	AbsorbedIDs []string `json:"absorbed_ids,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

func (r Request) absorbed() []string {
	if len(r.AbsorbedIDs) > 0 {
		return r.AbsorbedIDs
	}
	return []string{r.SourceID}
}

// Result reports what a merge did.
type Result struct {
	MergeID  string
	SourceID string
	TargetID string
	Replayed bool // the event had already been applied
}

// Engine applies merge events inside a caller-owned transaction.
type Engine struct {
	resolver identity.Resolver
	log      *slog.Logger
}

// NewEngine builds a merge engine.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With("component", "merge")}
}

// MergeEntities absorbs the requested entities into the survivor:
// relationships rewire, attributes the survivor lacks copy over, and
// each absorbed entity becomes a MERGED tombstone. Each absorbed id
// consumes one op index of the event, so replaying the same event
// yields identical merge ids and is a no-op.
func (e *Engine) MergeEntities(ctx context.Context, tx graph.Tx, eventHash string, req Request, author string, at time.Time) ([]Result, error) {
	kind, err := identity.ParseKind(req.Kind)
	if err != nil || !kind.Claimable() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	results := make([]Result, 0, len(req.absorbed()))
	for i, absorbedID := range req.absorbed() {
		res, err := e.mergeOne(ctx, tx, eventHash, kind, absorbedID, req.TargetID, req.Reason, author, at, i)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) mergeOne(ctx context.Context, tx graph.Tx, eventHash string, kind identity.Kind, sourceID, targetID, reason, author string, at time.Time, opIndex int) (Result, error) {
	label := kind.Label()

	src, err := tx.GetNode(ctx, label, "id", sourceID)
	if errors.Is(err, graph.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrSourceMissing, kind, sourceID)
	}
	if err != nil {
		return Result{}, err
	}

	target, err := e.resolver.ResolveLive(ctx, tx, kind, targetID)
	if err != nil {
		return Result{}, err
	}

	// Replay: the source already points at this target for this event.
	if into, _ := src["merged_into"].(string); into != "" {
		if into == target || priorEvent(src) == eventHash {
			return Result{
				MergeID:  canonical.OpHash(eventHash, opIndex),
				SourceID: sourceID,
				TargetID: into,
				Replayed: true,
			}, nil
		}
		return Result{}, fmt.Errorf("%w: %s is merged into %s", ErrAlreadyMerged, sourceID, into)
	}

	if target == sourceID {
		// Covers both A into A and the cycle case: if B was merged into
		// A earlier, resolving A-into-B's target lands back on A.
		return Result{}, fmt.Errorf("%w: %s/%s", ErrSelfMerge, kind, sourceID)
	}
	tgt, err := tx.GetNode(ctx, label, "id", target)
	if errors.Is(err, graph.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrTargetMissing, kind, target)
	}
	if err != nil {
		return Result{}, err
	}

	if err := e.rewireEdges(ctx, tx, label, sourceID, target); err != nil {
		return Result{}, err
	}
	if err := unionAttributes(ctx, tx, label, target, src, tgt); err != nil {
		return Result{}, err
	}

	// Tombstone the source.
	if err := tx.SetNodeProps(ctx, label, "id", sourceID, graph.Props{
		"status":           "MERGED",
		"merged_into":      target,
		"merge_event_hash": eventHash,
		"merged_at":        at.UnixMilli(),
	}); err != nil {
		return Result{}, err
	}

	mergeID := canonical.OpHash(eventHash, opIndex)
	props := graph.Props{
		"kind":        string(kind),
		"absorbed_id": sourceID,
		"survivor_id": target,
		"event_hash":  eventHash,
		"merged_at":   at.UnixMilli(),
		"merged_by":   author,
	}
	if reason != "" {
		props["reason"] = reason
	}
	if _, err := tx.UpsertNode(ctx, "MergeRecord", "merge_id", mergeID, props); err != nil {
		return Result{}, err
	}
	if err := tx.UpsertEdge(ctx, "MERGED_INTO",
		graph.ByID(label, sourceID), graph.ByID(label, target), nil, nil); err != nil {
		return Result{}, err
	}

	e.log.InfoContext(ctx, "entities merged",
		"kind", kind, "absorbed_id", sourceID, "survivor_id", target, "merge_id", mergeID)
	return Result{MergeID: mergeID, SourceID: sourceID, TargetID: target}, nil
}

func priorEvent(src graph.Props) string {
	h, _ := src["merge_event_hash"].(string)
	return h
}

// rewireEdges moves every relationship touching the source onto the
// target, preserving type and properties. Edges between source and
// target would become self-loops and are dropped instead.
func (e *Engine) rewireEdges(ctx context.Context, tx graph.Tx, label, sourceID, targetID string) error {
	edges, err := tx.Edges(ctx, graph.ByID(label, sourceID), graph.Both)
	if err != nil {
		return err
	}
	for _, ed := range edges {
		if ed.Type == "MERGED_INTO" {
			continue
		}
		var from, to graph.NodeRef
		switch {
		case ed.FromID == sourceID && ed.ToID == sourceID:
			continue
		case ed.FromID == sourceID:
			if ed.ToID == targetID {
				// would self-loop
				if err := tx.DeleteEdge(ctx, ed.ElementID); err != nil {
					return err
				}
				continue
			}
			from = graph.ByID(label, targetID)
			to = graph.ByID(ed.ToLabel, ed.ToID)
		default:
			if ed.FromID == targetID {
				if err := tx.DeleteEdge(ctx, ed.ElementID); err != nil {
					return err
				}
				continue
			}
			from = graph.ByID(ed.FromLabel, ed.FromID)
			to = graph.ByID(label, targetID)
		}
		// The full property set is the merge key, so an identical edge
		// already on the target absorbs this one.
		if err := tx.UpsertEdge(ctx, ed.Type, from, to, ed.Props, nil); err != nil {
			return err
		}
		if err := tx.DeleteEdge(ctx, ed.ElementID); err != nil {
			return err
		}
	}
	return nil
}

// unionAttributes copies source attributes the target lacks and unions
// the alt_names lists, folding in the source name when it differs.
func unionAttributes(ctx context.Context, tx graph.Tx, label, targetID string, src, tgt graph.Props) error {
	out := graph.Props{}
	for k, v := range src {
		if internalProps[k] || strings.HasSuffix(k, "_id") {
			continue
		}
		if k == "alt_names" {
			continue
		}
		if _, exists := tgt[k]; !exists {
			out[k] = v
		}
	}

	names := stringList(tgt["alt_names"])
	seen := make(map[string]bool, len(names)+2)
	for _, n := range names {
		seen[strings.ToLower(n)] = true
	}
	tgtName, _ := tgt["name"].(string)
	seen[strings.ToLower(tgtName)] = true
	add := func(n string) {
		if n == "" || seen[strings.ToLower(n)] {
			return
		}
		seen[strings.ToLower(n)] = true
		names = append(names, n)
	}
	if srcName, _ := src["name"].(string); srcName != "" {
		add(srcName)
	}
	for _, n := range stringList(src["alt_names"]) {
		add(n)
	}
	if len(names) > 0 {
		out["alt_names"] = names
	}

	if len(out) == 0 {
		return nil
	}
	return tx.SetNodeProps(ctx, label, "id", targetID, out)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
