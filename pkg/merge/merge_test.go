package merge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/graph/memstore"
	"github.com/waxworks/discograph/pkg/identity"
)

const (
	personA = "prov:person:aaaaaaaaaaaaaaaa"
	personB = "prov:person:bbbbbbbbbbbbbbbb"
	personC = "prov:person:cccccccccccccccc"
	groupG  = "prov:group:1111111111111111"
)

func seed(t *testing.T, st *memstore.Store) {
	t.Helper()
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		for _, p := range []struct {
			id    string
			props graph.Props
		}{
			{personA, graph.Props{"name": "Jon Smith", "bio": "from A"}},
			{personB, graph.Props{"name": "John Smith", "alt_names": []string{"Johnny"}, "country": "UK"}},
			{personC, graph.Props{"name": "J. Smith"}},
		} {
			if _, err := tx.UpsertNode(ctx, "Person", "person_id", p.id, p.props); err != nil {
				return err
			}
		}
		if _, err := tx.UpsertNode(ctx, "Group", "group_id", groupG, graph.Props{"name": "The Smiths"}); err != nil {
			return err
		}
		// A plays in G; a claim hangs off A.
		if err := tx.UpsertEdge(ctx, "MEMBER_OF",
			graph.ByID("Person", personA), graph.ByID("Group", groupG),
			graph.Props{"role": "guitar"}, nil); err != nil {
			return err
		}
		if _, err := tx.UpsertNode(ctx, "Claim", "claim_id", "c1", graph.Props{
			"node_type": "person", "node_id": personA, "field": "bio", "value": "from A",
		}); err != nil {
			return err
		}
		return tx.UpsertEdge(ctx, "CLAIMS_ABOUT",
			graph.NodeRef{Label: "Claim", IDField: "claim_id", ID: "c1"},
			graph.ByID("Person", personA), nil, nil)
	})
	require.NoError(t, err)
}

func doMerge(t *testing.T, st *memstore.Store, eventHash, srcID, tgtID string) (Result, error) {
	t.Helper()
	e := NewEngine(nil)
	var res Result
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		results, err := e.MergeEntities(ctx, tx, eventHash, Request{
			Kind: "person", SourceID: srcID, TargetID: tgtID,
		}, "admin", time.UnixMilli(1700000000000))
		if err != nil {
			return err
		}
		res = results[0]
		return nil
	})
	return res, err
}

func TestMerge_RewiresEdgesAndTombstones(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	res, err := doMerge(t, st, "ev-merge-1", personA, personB)
	require.NoError(t, err)
	assert.Equal(t, personB, res.TargetID)
	assert.False(t, res.Replayed)

	err = st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		src, err := tx.GetNode(ctx, "Person", "id", personA)
		require.NoError(t, err)
		assert.Equal(t, "MERGED", src["status"])
		assert.Equal(t, personB, src["merged_into"])
		assert.Equal(t, "ev-merge-1", src["merge_event_hash"])

		// Membership moved to the survivor, role preserved.
		edges, err := tx.Edges(ctx, graph.ByID("Person", personB), graph.Outgoing)
		require.NoError(t, err)
		var member bool
		for _, e := range edges {
			if e.Type == "MEMBER_OF" && e.ToID == groupG {
				member = true
				assert.Equal(t, "guitar", e.Props["role"])
			}
		}
		assert.True(t, member, "MEMBER_OF rewired to target")

		// The claim now points at the survivor.
		in, err := tx.Edges(ctx, graph.ByID("Person", personB), graph.Incoming)
		require.NoError(t, err)
		var claimed bool
		for _, e := range in {
			if e.Type == "CLAIMS_ABOUT" && e.FromID == "c1" {
				claimed = true
			}
		}
		assert.True(t, claimed, "CLAIMS_ABOUT rewired to target")

		// Only the MERGED_INTO edge remains on the source.
		srcEdges, err := tx.Edges(ctx, graph.ByID("Person", personA), graph.Both)
		require.NoError(t, err)
		require.Len(t, srcEdges, 1)
		assert.Equal(t, "MERGED_INTO", srcEdges[0].Type)

		// Attribute union: bio copied, name kept, alt_names grew.
		tgt, err := tx.GetNode(ctx, "Person", "id", personB)
		require.NoError(t, err)
		assert.Equal(t, "from A", tgt["bio"])
		assert.Equal(t, "John Smith", tgt["name"])
		assert.Equal(t, []string{"Johnny", "Jon Smith"}, tgt["alt_names"])

		rec, err := tx.GetNode(ctx, "MergeRecord", "merge_id", res.MergeID)
		require.NoError(t, err)
		assert.Equal(t, personA, rec["absorbed_id"])
		assert.Equal(t, personB, rec["survivor_id"])
		return nil
	})
	require.NoError(t, err)
}

func TestMerge_SelfMergeRejected(t *testing.T) {
	st := memstore.New()
	seed(t, st)
	_, err := doMerge(t, st, "ev", personA, personA)
	assert.ErrorIs(t, err, ErrSelfMerge)
}

func TestMerge_CycleRejected(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	_, err := doMerge(t, st, "ev1", personA, personB)
	require.NoError(t, err)

	// B into A: A's live identity is already B, so this is a self merge.
	_, err = doMerge(t, st, "ev2", personB, personA)
	assert.ErrorIs(t, err, ErrSelfMerge)
}

func TestMerge_ReplayIsNoop(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	first, err := doMerge(t, st, "ev1", personA, personB)
	require.NoError(t, err)
	snap1, err := st.Snapshot()
	require.NoError(t, err)

	again, err := doMerge(t, st, "ev1", personA, personB)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.MergeID, again.MergeID)

	snap2, err := st.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap1, snap2)
}

func TestMerge_AlreadyMergedElsewhere(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	_, err := doMerge(t, st, "ev1", personA, personB)
	require.NoError(t, err)

	// A second event cannot point the same tombstone somewhere new.
	_, err = doMerge(t, st, "ev2", personA, personC)
	assert.ErrorIs(t, err, ErrAlreadyMerged)
}

func TestMerge_ChainResolvesToFinalSurvivor(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	_, err := doMerge(t, st, "ev1", personA, personB)
	require.NoError(t, err)
	_, err = doMerge(t, st, "ev2", personB, personC)
	require.NoError(t, err)

	err = st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		var r identity.Resolver
		live, err := r.ResolveLive(ctx, tx, identity.KindPerson, personA)
		require.NoError(t, err)
		assert.Equal(t, personC, live)
		return nil
	})
	require.NoError(t, err)

	// Merging into a tombstone follows the chain to the live survivor.
	st2 := memstore.New()
	seed(t, st2)
	_, err = doMerge(t, st2, "ev1", personB, personC)
	require.NoError(t, err)
	res, err := doMerge(t, st2, "ev2", personA, personB)
	require.NoError(t, err)
	assert.Equal(t, personC, res.TargetID)
}

func TestMerge_BatchAbsorbsSeveral(t *testing.T) {
	st := memstore.New()
	seed(t, st)
	e := NewEngine(nil)

	var results []Result
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		var err error
		results, err = e.MergeEntities(ctx, tx, "ev-batch", Request{
			Kind:        "person",
			TargetID:    personB,
			AbsorbedIDs: []string{personA, personC},
			Reason:      "duplicate artist pages",
		}, "admin", time.UnixMilli(1700000000000))
		return err
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].MergeID, results[1].MergeID)

	err = st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		for _, id := range []string{personA, personC} {
			node, err := tx.GetNode(ctx, "Person", "id", id)
			require.NoError(t, err)
			assert.Equal(t, "MERGED", node["status"])
			assert.Equal(t, personB, node["merged_into"])
		}
		rec, err := tx.GetNode(ctx, "MergeRecord", "merge_id", results[0].MergeID)
		require.NoError(t, err)
		assert.Equal(t, "duplicate artist pages", rec["reason"])
		return nil
	})
	require.NoError(t, err)
}

func TestMerge_UnknownKind(t *testing.T) {
	st := memstore.New()
	seed(t, st)
	e := NewEngine(nil)
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := e.MergeEntities(ctx, tx, "ev", Request{
			Kind: "account", SourceID: "x", TargetID: "y",
		}, "admin", time.Now())
		return err
	})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestMerge_MissingNodes(t *testing.T) {
	st := memstore.New()
	seed(t, st)

	_, err := doMerge(t, st, "ev", "prov:person:dddddddddddddddd", personB)
	assert.ErrorIs(t, err, ErrSourceMissing)

	_, err = doMerge(t, st, "ev", personA, "prov:person:dddddddddddddddd")
	assert.ErrorIs(t, err, ErrTargetMissing)
}
