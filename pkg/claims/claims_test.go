package claims

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/graph/memstore"
)

const personID = "prov:person:aaaaaaaaaaaaaaaa"

func seedPerson(t *testing.T, st *memstore.Store) {
	t.Helper()
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := tx.UpsertNode(ctx, "Person", "person_id", personID, graph.Props{
			"id": personID, "name": "John", "status": "ACTIVE",
		})
		return err
	})
	require.NoError(t, err)
}

func TestAddClaim_ProtectedFieldRejectedEvenPadded(t *testing.T) {
	st := memstore.New()
	seedPerson(t, st)
	e := NewEngine(nil)

	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "person", ID: personID},
			Field:  "  id  ",
			Value:  "x",
		}, "alice", time.Now())
		return err
	})
	require.ErrorIs(t, err, ErrProtectedField)
	assert.Contains(t, err.Error(), "Invalid claim field: 'id' is protected")
}

func TestAddClaim_KindIDFieldProtected(t *testing.T) {
	st := memstore.New()
	seedPerson(t, st)
	e := NewEngine(nil)

	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "PERSON", ID: personID},
			Field:  "person_id",
			Value:  "x",
		}, "alice", time.Now())
		return err
	})
	require.ErrorIs(t, err, ErrProtectedField)
}

func TestAddClaim_UnknownKindAndUnsafeField(t *testing.T) {
	st := memstore.New()
	seedPerson(t, st)
	e := NewEngine(nil)

	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "widget", ID: personID}, Field: "bio", Value: "x",
		}, "alice", time.Now())
		assert.ErrorIs(t, err, ErrUnknownKind)

		// Source and Account are whitelisted kinds but not claimable.
		_, err = e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "source", ID: "s"}, Field: "url", Value: "x",
		}, "alice", time.Now())
		assert.ErrorIs(t, err, ErrUnknownKind)

		_, err = e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "person", ID: personID}, Field: "bad field!", Value: "x",
		}, "alice", time.Now())
		assert.ErrorIs(t, err, ErrUnsafeFieldName)
		return nil
	})
	require.NoError(t, err)
}

func TestAddClaim_WritesValueAndEdges(t *testing.T) {
	st := memstore.New()
	seedPerson(t, st)
	e := NewEngine(nil)
	ctx := context.Background()

	var claimID string
	err := st.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		var err error
		claimID, err = e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "person", ID: personID},
			Field:  "bio",
			Value:  "A",
			Source: &SourceRef{URL: "https://example.org/ref"},
		}, "alice", time.UnixMilli(1700000000000))
		return err
	})
	require.NoError(t, err)

	err = st.ReadTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		person, err := tx.GetNode(ctx, "Person", "id", personID)
		require.NoError(t, err)
		assert.Equal(t, "A", person["bio"])

		claim, err := tx.GetNode(ctx, "Claim", "claim_id", claimID)
		require.NoError(t, err)
		assert.Equal(t, "person", claim["node_type"])
		assert.Equal(t, "bio", claim["field"])

		edges, err := tx.Edges(ctx, graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: claimID}, graph.Outgoing)
		require.NoError(t, err)
		types := map[string]int{}
		for _, e := range edges {
			types[e.Type]++
		}
		assert.Equal(t, 1, types["CLAIMS_ABOUT"])
		assert.Equal(t, 1, types["SOURCED_FROM"])
		return nil
	})
	require.NoError(t, err)
}

func TestEditClaim_SupersessionChain(t *testing.T) {
	st := memstore.New()
	seedPerson(t, st)
	e := NewEngine(nil)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000)

	var c1, c2 string
	err := st.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		var err error
		c1, err = e.AddClaim(ctx, tx, "ev1", AddRequest{
			Target: Target{Kind: "person", ID: personID}, Field: "bio", Value: "A",
		}, "alice", at)
		return err
	})
	require.NoError(t, err)

	err = st.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		var err error
		c2, err = e.EditClaim(ctx, tx, "ev2", EditRequest{ClaimID: c1, Value: "B"}, "alice", at)
		return err
	})
	require.NoError(t, err)
	require.NotEqual(t, c1, c2)

	check := func() {
		err = st.ReadTx(ctx, func(ctx context.Context, tx graph.Tx) error {
			person, err := tx.GetNode(ctx, "Person", "id", personID)
			require.NoError(t, err)
			assert.Equal(t, "B", person["bio"])

			old, err := tx.GetNode(ctx, "Claim", "claim_id", c1)
			require.NoError(t, err)
			assert.Equal(t, c2, old["superseded_by"])
			assert.NotNil(t, old["superseded_at"])

			edges, err := tx.Edges(ctx, graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: c2}, graph.Outgoing)
			require.NoError(t, err)
			supersedes := 0
			for _, e := range edges {
				if e.Type == "SUPERSEDES" {
					supersedes++
					assert.Equal(t, c1, e.ToID)
				}
			}
			assert.Equal(t, 1, supersedes, "exactly one SUPERSEDES edge")
			return nil
		})
		require.NoError(t, err)
	}
	check()

	// Replay of the edit event: same id, same edge count.
	err = st.WriteTx(ctx, func(ctx context.Context, tx graph.Tx) error {
		replayed, err := e.EditClaim(ctx, tx, "ev2", EditRequest{ClaimID: c1, Value: "B"}, "alice", at)
		require.NoError(t, err)
		assert.Equal(t, c2, replayed)
		return nil
	})
	require.NoError(t, err)
	check()
}

func TestEditClaim_MissingClaim(t *testing.T) {
	st := memstore.New()
	e := NewEngine(nil)
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := e.EditClaim(ctx, tx, "ev", EditRequest{ClaimID: "nope", Value: 1}, "a", time.Now())
		return err
	})
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestNormalizeValue(t *testing.T) {
	v, err := NormalizeValue("s")
	require.NoError(t, err)
	assert.Equal(t, "s", v)

	v, err = NormalizeValue([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	v, err = NormalizeValue([]any{"a", 1})
	require.NoError(t, err)
	assert.Equal(t, `["a",1]`, v)

	v, err = NormalizeValue(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, v)
}
