// Package graph defines the property-graph store contract the engines
// run against, together with two implementations: a Neo4j/Bolt adapter
// for production and a deterministic in-memory engine for tests.
//
// The contract is deliberately operation-shaped rather than
// query-shaped: engines never interpolate labels or relationship types
// from input, they go through the compile-time kind table and a fixed
// set of upsert/match primitives. MERGE semantics make every write
// idempotent, which is what lets an event replay to an identical state.
package graph

import (
	"context"
	"errors"
)

// Props is a property map for a node or relationship.
type Props map[string]any

// NodeRef addresses a node by label and the property it is unique on.
type NodeRef struct {
	Label   string
	IDField string
	ID      string
}

// ByID builds a NodeRef matching on the universal id property.
func ByID(label, id string) NodeRef {
	return NodeRef{Label: label, IDField: "id", ID: id}
}

// Direction selects which relationships of a node to enumerate.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// Edge is a materialized relationship. ElementID is an opaque handle
// valid for the lifetime of the transaction that produced it.
type Edge struct {
	ElementID string
	Type      string
	FromLabel string
	FromID    string // universal id of the start node
	ToLabel   string
	ToID      string // universal id of the end node
	Props     Props
}

var (
	// ErrNotFound is returned when a matched node does not exist.
	ErrNotFound = errors.New("graph: node not found")
	// ErrConstraint is returned when a write violates a uniqueness
	// constraint.
	ErrConstraint = errors.New("graph: constraint violation")
)

// Tx is a single graph transaction. All writes within it commit or roll
// back together.
type Tx interface {
	// UpsertNode merges a node on (label, idField=id). On create the
	// universal id property is set equal to id alongside props; on
	// match, props are written over the existing values (properties
	// absent from props are left untouched). Reports whether the node
	// was created.
	UpsertNode(ctx context.Context, label, idField, id string, props Props) (created bool, err error)

	// GetNode returns the properties of the node matched on
	// (label, idField=id), or ErrNotFound.
	GetNode(ctx context.Context, label, idField, id string) (Props, error)

	// SetNodeProps updates properties on an existing node. ErrNotFound
	// when the node does not exist.
	SetNodeProps(ctx context.Context, label, idField, id string, props Props) error

	// UpsertEdge merges a relationship of relType from from to to,
	// matching on key (MERGE semantics: same endpoints + type + key is
	// the same edge), then writes props. Both endpoints must exist.
	UpsertEdge(ctx context.Context, relType string, from, to NodeRef, key, props Props) error

	// Edges enumerates the relationships touching node in the given
	// direction.
	Edges(ctx context.Context, node NodeRef, dir Direction) ([]Edge, error)

	// DeleteEdge removes a relationship by its element id.
	DeleteEdge(ctx context.Context, elementID string) error
}

// Store opens transactions against a property graph.
type Store interface {
	// EnsureConstraints creates the uniqueness constraints and indexes
	// the engines rely on. Safe to call repeatedly.
	EnsureConstraints(ctx context.Context) error

	// WriteTx runs fn inside one read-write transaction, committing on
	// nil and rolling back on error or context cancellation.
	WriteTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ReadTx runs fn inside one read-only transaction.
	ReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close(ctx context.Context) error
}
