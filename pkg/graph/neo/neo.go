// Package neo adapts the graph.Store contract to Neo4j over Bolt.
//
// Labels and relationship types are never taken from input: callers go
// through the compile-time kind table, and this package still refuses
// to interpolate anything that is not a plain identifier. Transient
// failures are retried by the driver's managed-transaction machinery,
// bounded by MaxTransactionRetryTime.
package neo

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/waxworks/discograph/pkg/graph"
)

// Config connects the adapter to a Bolt endpoint.
type Config struct {
	URI      string
	User     string
	Password string
	// MaxRetry bounds transient-error retries inside managed
	// transactions. Zero means the driver default (30s).
	MaxRetry time.Duration
	// PoolSize bounds the driver connection pool. Zero means 100.
	PoolSize int
}

// Store is a Neo4j-backed graph.Store.
type Store struct {
	driver neo4j.DriverWithContext
}

// Open dials the Bolt endpoint and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxRetry > 0 {
				c.MaxTransactionRetryTime = cfg.MaxRetry
			}
			if cfg.PoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.PoolSize
			} else {
				c.MaxConnectionPoolSize = 100
			}
		})
	if err != nil {
		return nil, fmt.Errorf("neo: dial %s: %w", cfg.URI, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo: verify connectivity: %w", err)
	}
	return &Store{driver: driver}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureConstraints creates the uniqueness constraints and indexes from
// the shared catalog. IF NOT EXISTS makes this idempotent.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	for _, c := range graph.Constraints() {
		if err := checkIdent(c.Label, c.Property); err != nil {
			return err
		}
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			c.Label, c.Property)
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo: constraint (%s,%s): %w", c.Label, c.Property, err)
		}
	}
	for _, ix := range graph.Indexes() {
		if err := checkIdent(append([]string{ix.Label}, ix.Properties...)...); err != nil {
			return err
		}
		props := make([]string, len(ix.Properties))
		for i, p := range ix.Properties {
			props[i] = "n." + p
		}
		stmt := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (%s)",
			ix.Label, strings.Join(props, ", "))
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo: index (%s,%v): %w", ix.Label, ix.Properties, err)
		}
	}
	return nil
}

// WriteTx runs fn in one managed read-write transaction. One session,
// one transaction per event.
func (s *Store) WriteTx(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &tx{mtx: mtx})
	})
	return err
}

// ReadTx runs fn in one managed read-only transaction.
func (s *Store) ReadTx(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteRead(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &tx{mtx: mtx})
	})
	return err
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("neo: unsafe identifier %q", n)
		}
	}
	return nil
}

type tx struct {
	mtx neo4j.ManagedTransaction
}

func (t *tx) UpsertNode(ctx context.Context, label, idField, id string, props graph.Props) (bool, error) {
	if err := checkIdent(label, idField); err != nil {
		return false, err
	}
	stmt := fmt.Sprintf(`
		MERGE (n:%s {%s: $id})
		ON CREATE SET n.id = coalesce($props.id, $id), n._created = true
		SET n += $props
		WITH n, coalesce(n._created, false) AS created
		REMOVE n._created
		RETURN created`, label, idField)
	rec, err := t.runSingle(ctx, stmt, map[string]any{"id": id, "props": map[string]any(props)})
	if err != nil {
		return false, classify(err)
	}
	created, _ := rec.Get("created")
	b, _ := created.(bool)
	return b, nil
}

func (t *tx) GetNode(ctx context.Context, label, idField, id string) (graph.Props, error) {
	if err := checkIdent(label, idField); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN properties(n) AS props", label, idField)
	res, err := t.mtx.Run(ctx, stmt, map[string]any{"id": id})
	if err != nil {
		return nil, classify(err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, classify(err)
		}
		return nil, fmt.Errorf("%w: (%s, %s=%s)", graph.ErrNotFound, label, idField, id)
	}
	raw, _ := res.Record().Get("props")
	props, _ := raw.(map[string]any)
	return graph.Props(props), nil
}

func (t *tx) SetNodeProps(ctx context.Context, label, idField, id string, props graph.Props) error {
	if err := checkIdent(label, idField); err != nil {
		return err
	}
	stmt := fmt.Sprintf("MATCH (n:%s {%s: $id}) SET n += $props RETURN count(n) AS c", label, idField)
	rec, err := t.runSingle(ctx, stmt, map[string]any{"id": id, "props": map[string]any(props)})
	if err != nil {
		return classify(err)
	}
	if c, _ := rec.Get("c"); c == int64(0) {
		return fmt.Errorf("%w: (%s, %s=%s)", graph.ErrNotFound, label, idField, id)
	}
	return nil
}

func (t *tx) UpsertEdge(ctx context.Context, relType string, from, to graph.NodeRef, key, props graph.Props) error {
	if err := checkIdent(relType, from.Label, from.IDField, to.Label, to.IDField); err != nil {
		return err
	}
	keyFrag := ""
	if len(key) > 0 {
		parts := make([]string, 0, len(key))
		for k := range key {
			if err := checkIdent(k); err != nil {
				return err
			}
			parts = append(parts, fmt.Sprintf("%s: $key.%s", k, k))
		}
		keyFrag = " {" + strings.Join(parts, ", ") + "}"
	}
	stmt := fmt.Sprintf(`
		MATCH (a:%s {%s: $fromID})
		MATCH (b:%s {%s: $toID})
		MERGE (a)-[r:%s%s]->(b)
		SET r += $props
		RETURN count(r) AS c`,
		from.Label, from.IDField, to.Label, to.IDField, relType, keyFrag)
	rec, err := t.runSingle(ctx, stmt, map[string]any{
		"fromID": from.ID,
		"toID":   to.ID,
		"key":    map[string]any(key),
		"props":  map[string]any(props),
	})
	if err != nil {
		return classify(err)
	}
	if c, _ := rec.Get("c"); c == int64(0) {
		return fmt.Errorf("%w: edge %s (%s)-[%s]->(%s)", graph.ErrNotFound, relType, from.ID, relType, to.ID)
	}
	return nil
}

func (t *tx) Edges(ctx context.Context, ref graph.NodeRef, dir graph.Direction) ([]graph.Edge, error) {
	if err := checkIdent(ref.Label, ref.IDField); err != nil {
		return nil, err
	}
	var pattern string
	switch dir {
	case graph.Outgoing:
		pattern = "(n)-[r]->(m)"
	case graph.Incoming:
		pattern = "(n)<-[r]-(m)"
	default:
		pattern = "(n)-[r]-(m)"
	}
	stmt := fmt.Sprintf(`
		MATCH (n:%s {%s: $id})
		MATCH %s
		RETURN elementId(r) AS eid, type(r) AS t, properties(r) AS props,
		       labels(startNode(r))[0] AS fl, startNode(r).id AS fid,
		       labels(endNode(r))[0] AS tl, endNode(r).id AS tid`,
		ref.Label, ref.IDField, pattern)
	res, err := t.mtx.Run(ctx, stmt, map[string]any{"id": ref.ID})
	if err != nil {
		return nil, classify(err)
	}
	var out []graph.Edge
	for res.Next(ctx) {
		rec := res.Record()
		e := graph.Edge{}
		if v, ok := rec.Get("eid"); ok {
			e.ElementID, _ = v.(string)
		}
		if v, ok := rec.Get("t"); ok {
			e.Type, _ = v.(string)
		}
		if v, ok := rec.Get("props"); ok {
			m, _ := v.(map[string]any)
			e.Props = graph.Props(m)
		}
		if v, ok := rec.Get("fl"); ok {
			e.FromLabel, _ = v.(string)
		}
		if v, ok := rec.Get("fid"); ok {
			e.FromID, _ = v.(string)
		}
		if v, ok := rec.Get("tl"); ok {
			e.ToLabel, _ = v.(string)
		}
		if v, ok := rec.Get("tid"); ok {
			e.ToID, _ = v.(string)
		}
		out = append(out, e)
	}
	if err := res.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *tx) DeleteEdge(ctx context.Context, elementID string) error {
	_, err := t.mtx.Run(ctx,
		"MATCH ()-[r]-() WHERE elementId(r) = $eid DELETE r",
		map[string]any{"eid": elementID})
	return classify(err)
}

func (t *tx) runSingle(ctx context.Context, stmt string, params map[string]any) (*neo4j.Record, error) {
	res, err := t.mtx.Run(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	return res.Single(ctx)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsNeo4jError(err) {
		ne := err.(*neo4j.Neo4jError)
		if strings.Contains(ne.Code, "ConstraintValidation") {
			return fmt.Errorf("%w: %s", graph.ErrConstraint, ne.Msg)
		}
	}
	return err
}

var _ graph.Store = (*Store)(nil)
