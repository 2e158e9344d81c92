// Package memstore is a deterministic in-memory implementation of the
// graph.Store contract. It enforces the same uniqueness constraints as
// the Bolt adapter and snapshots state for rollback, so engine tests
// exercise real transactional semantics without a server.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/graph"
)

type node struct {
	label string
	props graph.Props
}

type edge struct {
	id        int
	relType   string
	fromLabel string
	fromID    string
	toLabel   string
	toID      string
	props     graph.Props
}

// Store is an in-memory property graph. A single mutex serializes
// transactions; within WriteTx the pre-transaction state is retained so
// an error rolls everything back.
type Store struct {
	mu     sync.Mutex
	nodes  []*node
	edges  []*edge
	nextID int
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// EnsureConstraints is a no-op beyond what the store already enforces
// on every write.
func (s *Store) EnsureConstraints(ctx context.Context) error { return nil }

// Close releases nothing; present to satisfy graph.Store.
func (s *Store) Close(ctx context.Context) error { return nil }

// Reset drops all nodes and edges. Used by replay tests that wipe the
// graph between runs.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nil
	s.edges = nil
	s.nextID = 0
}

// WriteTx runs fn against the live state, restoring the prior state if
// fn returns an error or the context is cancelled.
func (s *Store) WriteTx(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	savedNodes, savedEdges, savedID := s.cloneState()
	err := fn(ctx, &tx{store: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.nodes, s.edges, s.nextID = savedNodes, savedEdges, savedID
		return err
	}
	return nil
}

// ReadTx runs fn against the live state; writes made through a read
// transaction are discarded.
func (s *Store) ReadTx(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	savedNodes, savedEdges, savedID := s.cloneState()
	err := fn(ctx, &tx{store: s})
	s.nodes, s.edges, s.nextID = savedNodes, savedEdges, savedID
	return err
}

func (s *Store) cloneState() ([]*node, []*edge, int) {
	nodes := make([]*node, len(s.nodes))
	for i, n := range s.nodes {
		nodes[i] = &node{label: n.label, props: cloneProps(n.props)}
	}
	edges := make([]*edge, len(s.edges))
	for i, e := range s.edges {
		c := *e
		c.props = cloneProps(e.props)
		edges[i] = &c
	}
	return nodes, edges, s.nextID
}

func cloneProps(p graph.Props) graph.Props {
	out := make(graph.Props, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type tx struct {
	store *Store
}

func (t *tx) find(label, field, id string) *node {
	for _, n := range t.store.nodes {
		if n.label == label && n.props[field] == id {
			return n
		}
	}
	return nil
}

func (t *tx) UpsertNode(ctx context.Context, label, idField, id string, props graph.Props) (bool, error) {
	if n := t.find(label, idField, id); n != nil {
		for k, v := range props {
			n.props[k] = cloneValue(v)
		}
		return false, nil
	}
	// Uniqueness on the universal id as well as the kind id.
	if uid, ok := props["id"]; ok {
		if t.find(label, "id", fmt.Sprint(uid)) != nil {
			return false, fmt.Errorf("%w: (%s, id=%v)", graph.ErrConstraint, label, uid)
		}
	}
	n := &node{label: label, props: cloneProps(props)}
	n.props[idField] = id
	if _, ok := n.props["id"]; !ok {
		n.props["id"] = id
	}
	t.store.nodes = append(t.store.nodes, n)
	return true, nil
}

func (t *tx) GetNode(ctx context.Context, label, idField, id string) (graph.Props, error) {
	n := t.find(label, idField, id)
	if n == nil {
		return nil, fmt.Errorf("%w: (%s, %s=%s)", graph.ErrNotFound, label, idField, id)
	}
	return cloneProps(n.props), nil
}

func (t *tx) SetNodeProps(ctx context.Context, label, idField, id string, props graph.Props) error {
	n := t.find(label, idField, id)
	if n == nil {
		return fmt.Errorf("%w: (%s, %s=%s)", graph.ErrNotFound, label, idField, id)
	}
	for k, v := range props {
		n.props[k] = cloneValue(v)
	}
	return nil
}

func (t *tx) UpsertEdge(ctx context.Context, relType string, from, to graph.NodeRef, key, props graph.Props) error {
	fn := t.find(from.Label, from.IDField, from.ID)
	if fn == nil {
		return fmt.Errorf("%w: edge start (%s, %s=%s)", graph.ErrNotFound, from.Label, from.IDField, from.ID)
	}
	tn := t.find(to.Label, to.IDField, to.ID)
	if tn == nil {
		return fmt.Errorf("%w: edge end (%s, %s=%s)", graph.ErrNotFound, to.Label, to.IDField, to.ID)
	}
	fromID := fmt.Sprint(fn.props["id"])
	toID := fmt.Sprint(tn.props["id"])

	for _, e := range t.store.edges {
		if e.relType == relType && e.fromID == fromID && e.toID == toID && matchesKey(e.props, key) {
			for k, v := range props {
				e.props[k] = cloneValue(v)
			}
			return nil
		}
	}

	merged := cloneProps(key)
	for k, v := range props {
		merged[k] = cloneValue(v)
	}
	t.store.nextID++
	t.store.edges = append(t.store.edges, &edge{
		id:        t.store.nextID,
		relType:   relType,
		fromLabel: fn.label,
		fromID:    fromID,
		toLabel:   tn.label,
		toID:      toID,
		props:     merged,
	})
	return nil
}

func matchesKey(props, key graph.Props) bool {
	for k, v := range key {
		if !reflect.DeepEqual(props[k], v) {
			return false
		}
	}
	return true
}

func (t *tx) Edges(ctx context.Context, ref graph.NodeRef, dir graph.Direction) ([]graph.Edge, error) {
	n := t.find(ref.Label, ref.IDField, ref.ID)
	if n == nil {
		return nil, fmt.Errorf("%w: (%s, %s=%s)", graph.ErrNotFound, ref.Label, ref.IDField, ref.ID)
	}
	uid := fmt.Sprint(n.props["id"])

	var out []graph.Edge
	for _, e := range t.store.edges {
		match := (dir == graph.Outgoing && e.fromID == uid) ||
			(dir == graph.Incoming && e.toID == uid) ||
			(dir == graph.Both && (e.fromID == uid || e.toID == uid))
		if !match {
			continue
		}
		out = append(out, graph.Edge{
			ElementID: strconv.Itoa(e.id),
			Type:      e.relType,
			FromLabel: e.fromLabel,
			FromID:    e.fromID,
			ToLabel:   e.toLabel,
			ToID:      e.toID,
			Props:     cloneProps(e.props),
		})
	}
	return out, nil
}

func (t *tx) DeleteEdge(ctx context.Context, elementID string) error {
	id, err := strconv.Atoi(elementID)
	if err != nil {
		return fmt.Errorf("memstore: bad edge id %q", elementID)
	}
	for i, e := range t.store.edges {
		if e.id == id {
			t.store.edges = append(t.store.edges[:i], t.store.edges[i+1:]...)
			return nil
		}
	}
	return nil
}

// Snapshot renders the observable graph state as canonical JSON with
// the named properties excluded (timestamps, typically). Two stores
// with identical node and edge sets produce byte-identical snapshots.
func (s *Store) Snapshot(exclude ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	strip := func(p graph.Props) graph.Props {
		out := graph.Props{}
		for k, v := range p {
			if !skip[k] {
				out[k] = v
			}
		}
		return out
	}

	type snapNode struct {
		Label string      `json:"label"`
		Props graph.Props `json:"props"`
	}
	type snapEdge struct {
		Type  string      `json:"type"`
		From  string      `json:"from"`
		To    string      `json:"to"`
		Props graph.Props `json:"props"`
	}

	nodes := make([]snapNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, snapNode{Label: n.label, Props: strip(n.props)})
	}
	edges := make([]snapEdge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, snapEdge{Type: e.relType, From: e.fromID, To: e.toID, Props: strip(e.props)})
	}

	sortByJSON := func(vs []string) { sort.Strings(vs) }
	nodeJSON := make([]string, len(nodes))
	for i, n := range nodes {
		b, err := canonical.Marshal(n)
		if err != nil {
			return "", err
		}
		nodeJSON[i] = string(b)
	}
	edgeJSON := make([]string, len(edges))
	for i, e := range edges {
		b, err := canonical.Marshal(e)
		if err != nil {
			return "", err
		}
		edgeJSON[i] = string(b)
	}
	sortByJSON(nodeJSON)
	sortByJSON(edgeJSON)

	out, err := canonical.Marshal(map[string]any{"nodes": nodeJSON, "edges": edgeJSON})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ graph.Store = (*Store)(nil)
