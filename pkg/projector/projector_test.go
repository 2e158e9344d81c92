package projector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/discograph/pkg/bundle"
	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/graph/memstore"
	"github.com/waxworks/discograph/pkg/identity"
)

const testEventTs = int64(1700000000) // seconds; projector converts to millis

func mustBundle(t *testing.T, raw string) *bundle.Bundle {
	t.Helper()
	b, diags, err := bundle.NewNormalizer(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.False(t, diags.HasErrors(), "diagnostics: %v", diags.Errors)
	return b
}

func project(t *testing.T, st *memstore.Store, eventHash string, b *bundle.Bundle) (string, Stats) {
	t.Helper()
	e := New(nil, nil, nil)
	var (
		releaseID string
		stats     Stats
	)
	err := st.WriteTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		var err error
		releaseID, stats, err = e.ProjectBundle(ctx, tx, eventHash, b, "submitter1", testEventTs)
		return err
	})
	require.NoError(t, err)
	return releaseID, stats
}

func personEdges(t *testing.T, st *memstore.Store, trackID, relType string) []graph.Edge {
	t.Helper()
	var out []graph.Edge
	err := st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		edges, err := tx.Edges(ctx, graph.ByID("Track", trackID), graph.Incoming)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.Type == relType && e.FromLabel == "Person" {
				out = append(out, e)
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func personID(t *testing.T, name string) string {
	t.Helper()
	id, err := identity.MakeProvisionalID(identity.KindPerson, identity.PersonFingerprint(name, ""))
	require.NoError(t, err)
	return id
}

const derivedPropagationBundle = `{
	"release": {"name": "The Beatles"},
	"groups": [{"name": "The Beatles", "members": [{"name": "John"}, {"name": "Paul"}]}],
	"tracks": [{
		"title": "Back in the U.S.S.R.",
		"duration": 164,
		"performed_by_groups": [{"name": "The Beatles"}],
		"guests": [{"name": "Paul", "role": "lead vocals"}]
	}],
	"tracklist": [{"position": "A1", "track_title": "Back in the U.S.S.R."}]
}`

func TestProject_DerivedPropagationExcludesGuests(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, derivedPropagationBundle)
	_, stats := project(t, st, "ev-derived", b)
	assert.Greater(t, stats.NodesCreated, 0)

	trackID := identity.TrackCatalogID("Back in the U.S.S.R.", 164)
	groupID, err := identity.MakeProvisionalID(identity.KindGroup, identity.GroupFingerprint("The Beatles"))
	require.NoError(t, err)

	performed := personEdges(t, st, trackID, "PERFORMED_ON")
	require.Len(t, performed, 1, "only John gets a derived edge")
	e := performed[0]
	assert.Equal(t, personID(t, "John"), e.FromID)
	assert.Equal(t, true, e.Props["derived"])
	assert.Equal(t, "release_default", e.Props["lineup_source"])
	assert.Equal(t, groupID, e.Props["via_group_id"])

	guests := personEdges(t, st, trackID, "GUEST_ON")
	require.Len(t, guests, 1)
	assert.Equal(t, personID(t, "Paul"), guests[0].FromID)
	assert.Equal(t, "track", guests[0].Props["scope"])
	assert.Equal(t, []string{"lead vocals"}, guests[0].Props["roles"])
}

func TestProject_ExplicitOverrideSuppressesDerived(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, `{
		"release": {"name": "The Beatles"},
		"groups": [{"name": "The Beatles", "members": [{"name": "John"}, {"name": "Paul"}]}],
		"tracks": [{
			"title": "Back in the U.S.S.R.",
			"duration": 164,
			"performed_by_groups": [{
				"name": "The Beatles",
				"members": [{"name": "George", "role": "drums, backing vocals"}],
				"members_are_complete": true
			}]
		}],
		"tracklist": [{"position": "A1", "track_title": "Back in the U.S.S.R."}]
	}`)
	project(t, st, "ev-explicit", b)

	trackID := identity.TrackCatalogID("Back in the U.S.S.R.", 164)
	performed := personEdges(t, st, trackID, "PERFORMED_ON")
	require.Len(t, performed, 1, "lineup propagation suppressed")
	e := performed[0]
	assert.Equal(t, personID(t, "George"), e.FromID)
	assert.Equal(t, false, e.Props["derived"])
	assert.Equal(t, "track_explicit", e.Props["lineup_source"])
	assert.Equal(t, []string{"drums", "backing vocals"}, e.Props["roles"])
}

func TestProject_SingleArtistFallback(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, `{
		"release": {"name": "Abbey Road"},
		"groups": [{"name": "The Beatles", "members": [{"name": "Ringo"}]}],
		"tracks": [{"title": "Come Together", "duration": 259}],
		"tracklist": [{"position": "A1", "track_title": "Come Together"}]
	}`)
	_, stats := project(t, st, "ev-fallback", b)
	assert.GreaterOrEqual(t, stats.Warnings, 1, "fallback logs a warning")

	trackID := identity.TrackCatalogID("Come Together", 259)
	performed := personEdges(t, st, trackID, "PERFORMED_ON")
	require.Len(t, performed, 1)
	assert.Equal(t, personID(t, "Ringo"), performed[0].FromID)
	assert.Equal(t, true, performed[0].Props["derived"])
}

func TestProject_ReleaseSubmitterAndTracklistPlacement(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, `{
		"release": {"name": "R", "release_date": "1969-09-26"},
		"tracks": [
			{"title": "One", "duration": 10},
			{"title": "Two", "duration": 20}
		],
		"tracklist": [
			{"position": "A1", "track_title": "One"},
			{"position": "2-B3", "track_title": "Two", "is_bonus": true}
		]
	}`)
	releaseID, _ := project(t, st, "ev-place", b)
	require.NotEmpty(t, releaseID)

	err := st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		rel, err := tx.GetNode(ctx, "Release", "id", releaseID)
		require.NoError(t, err)
		assert.Equal(t, "1969-09-26", rel["release_date"])
		assert.Equal(t, "PROVISIONAL", rel["status"])
		assert.Equal(t, releaseID, rel["release_id"], "universal id equals kind id")

		in, err := tx.Edges(ctx, graph.ByID("Release", releaseID), graph.Incoming)
		require.NoError(t, err)
		placements := map[string]graph.Props{}
		var submitted bool
		for _, e := range in {
			switch e.Type {
			case "IN_RELEASE":
				placements[e.Props["position"].(string)] = e.Props
			case "SUBMITTED":
				submitted = true
				assert.Equal(t, "ev-place", e.Props["event_hash"])
				assert.Equal(t, testEventTs*1000, e.Props["timestamp"])
			}
		}
		assert.True(t, submitted)
		require.Len(t, placements, 2)
		assert.Equal(t, 1, placements["A1"]["disc_number"])
		assert.Equal(t, "A", placements["A1"]["side"])
		assert.Equal(t, 1, placements["A1"]["track_number"])
		assert.Equal(t, 2, placements["2-B3"]["disc_number"])
		assert.Equal(t, "B", placements["2-B3"]["side"])
		assert.Equal(t, 3, placements["2-B3"]["track_number"])
		assert.Equal(t, true, placements["2-B3"]["is_bonus"])
		return nil
	})
	require.NoError(t, err)
}

func TestProject_SongsWritersLabelsSources(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, `{
		"release": {
			"name": "R",
			"master": "The Album",
			"labels": [{"name": "Apple", "parent_label": "EMI", "city": "London"}]
		},
		"songs": [{"title": "Something", "writers": [{"name": "George", "share_percentage": 100}]}],
		"tracks": [{"title": "Something", "duration": 182, "recording_of": "Something"}],
		"tracklist": [{"position": "1", "track_title": "Something"}],
		"sources": [{"url": "https://example.org/liner-notes"}]
	}`)
	releaseID, _ := project(t, st, "ev-full", b)

	err := st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		// WROTE with share percentage.
		songID, err := identity.MakeProvisionalID(identity.KindSong,
			identity.SongFingerprint("Something", "George"))
		require.NoError(t, err)
		in, err := tx.Edges(ctx, graph.ByID("Song", songID), graph.Incoming)
		require.NoError(t, err)
		var wrote, recordingOf bool
		for _, e := range in {
			switch e.Type {
			case "WROTE":
				wrote = true
				assert.Equal(t, float64(100), e.Props["share_percentage"])
			case "RECORDING_OF":
				recordingOf = true
			}
		}
		assert.True(t, wrote)
		assert.True(t, recordingOf)

		// Label chain and release linkage.
		labelID, err := identity.MakeProvisionalID(identity.KindLabel, identity.LabelFingerprint("Apple"))
		require.NoError(t, err)
		label, err := tx.GetNode(ctx, "Label", "id", labelID)
		require.NoError(t, err)
		parentID, err := identity.MakeProvisionalID(identity.KindLabel, identity.LabelFingerprint("EMI"))
		require.NoError(t, err)
		assert.Equal(t, parentID, label["parent_label_id"])

		relIn, err := tx.Edges(ctx, graph.ByID("Release", releaseID), graph.Both)
		require.NoError(t, err)
		var released, inMaster, sourced bool
		for _, e := range relIn {
			switch e.Type {
			case "RELEASED":
				released = true
			case "IN_MASTER":
				inMaster = true
			case "SOURCED_FROM":
				sourced = true
			}
		}
		assert.True(t, released)
		assert.True(t, inMaster)
		assert.True(t, sourced)
		return nil
	})
	require.NoError(t, err)
}

func TestProject_ReplayDeterminism(t *testing.T) {
	b := mustBundle(t, derivedPropagationBundle)

	st := memstore.New()
	project(t, st, "ev-replay", b)
	first, err := st.Snapshot()
	require.NoError(t, err)

	// Replaying into the same graph changes nothing.
	project(t, st, "ev-replay", b)
	second, err := st.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, second, "idempotent under replay")

	// Wiping the graph and replaying rebuilds the identical state.
	st.Reset()
	project(t, st, "ev-replay", b)
	third, err := st.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, third, "deterministic after wipe")
}

func TestProject_DuplicatePerformingGroupsCollapse(t *testing.T) {
	st := memstore.New()
	b := mustBundle(t, `{
		"release": {"name": "R"},
		"tracks": [{
			"title": "T", "duration": 1,
			"performed_by_groups": [{"name": "Wings"}, {"name": "WINGS"}]
		}],
		"tracklist": [{"position": "1", "track_title": "T"}]
	}`)
	project(t, st, "ev-dup", b)

	trackID := identity.TrackCatalogID("T", 1)
	err := st.ReadTx(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		edges, err := tx.Edges(ctx, graph.ByID("Track", trackID), graph.Incoming)
		require.NoError(t, err)
		count := 0
		for _, e := range edges {
			if e.Type == "PERFORMED_ON" && e.FromLabel == "Group" {
				count++
			}
		}
		assert.Equal(t, 1, count, "same fingerprint, one edge")
		return nil
	})
	require.NoError(t, err)
}
