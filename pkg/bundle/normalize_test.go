package bundle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxworks/discograph/pkg/identity"
)

func mustNormalize(t *testing.T, raw string) (*Bundle, *ValidationErrors) {
	t.Helper()
	b, diags, err := NewNormalizer(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.False(t, diags.HasErrors(), "unexpected diagnostics: %v", diags.Errors)
	return b, diags
}

func TestNormalize_LegacyFieldsSubmission(t *testing.T) {
	raw := `{
		"release": {"release_name": "The Beatles", "releaseDate": "1968-11-22", "albumArt": "u"},
		"tracks": [{"title": "Back in the U.S.S.R.", "duration": 164}],
		"tracklist": [{"position": "A1", "track_title": "Back in the U.S.S.R."}]
	}`
	b, _ := mustNormalize(t, raw)

	assert.Equal(t, "The Beatles", b.Release.Name)
	assert.Equal(t, "1968-11-22", b.Release.ReleaseDate)
	assert.Equal(t, "u", b.Release.AlbumArt)

	require.Len(t, b.Tracks, 1)
	wantID := identity.TrackCatalogID("Back in the U.S.S.R.", 164)
	assert.Equal(t, wantID, b.Tracks[0].ID)

	require.Len(t, b.Tracklist, 1)
	assert.Equal(t, "A1", b.Tracklist[0].Position)
	assert.Equal(t, wantID, b.Tracklist[0].TrackID)
}

func TestNormalize_TrackCatalogPriority(t *testing.T) {
	// release.tracks is used only when bundle.tracks is absent.
	raw := `{
		"release": {"name": "R", "tracks": [{"title": "From Release", "duration": 10}]},
		"tracklist": [{"position": "1", "track_title": "From Release"}]
	}`
	b, _ := mustNormalize(t, raw)
	require.Len(t, b.Tracks, 1)
	assert.Equal(t, "From Release", b.Tracks[0].Title)

	// And the tracklist itself as a last resort.
	raw = `{
		"release": {"name": "R"},
		"tracklist": [{"position": "1", "track_title": "Derived", "duration": 30}]
	}`
	b, _ = mustNormalize(t, raw)
	require.Len(t, b.Tracks, 1)
	assert.Equal(t, "Derived", b.Tracks[0].Title)
	assert.Equal(t, identity.TrackCatalogID("Derived", 30), b.Tracks[0].ID)
}

func TestNormalize_ISRCTrackID(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [{"title": "T", "isrc": "usrc17607839"}],
		"tracklist": [{"position": "1", "track_title": "T"}]
	}`
	b, _ := mustNormalize(t, raw)
	assert.Equal(t, "prov:track:isrc:USRC17607839", b.Tracks[0].ID)
}

func TestNormalize_DuplicateTrackDroppedWithNote(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [
			{"title": "Same", "duration": 100},
			{"title": "Same", "duration": 100}
		],
		"tracklist": [{"position": "1", "track_title": "Same"}]
	}`
	b, diags := mustNormalize(t, raw)
	assert.Len(t, b.Tracks, 1)
	require.Len(t, diags.Notes, 1)
	assert.Contains(t, diags.Notes[0], "duplicate track id")
}

func TestNormalize_TracklistTitleResolution(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [{"title": "Helter Skelter", "duration": 269}],
		"tracklist": [{"position": "A6", "track_title": "HELTER  SKELTER"}]
	}`
	b, _ := mustNormalize(t, raw)
	require.Len(t, b.Tracklist, 1)
	assert.Equal(t, b.Tracks[0].ID, b.Tracklist[0].TrackID)
}

func TestNormalize_TracklistErrors(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [{"title": "A", "duration": 1}],
		"tracklist": [
			{"position": "1", "track_title": "Nope"},
			{"position": "2", "track_title": "B", "track_id": "prov:track:ffffffffffffffff"}
		]
	}`
	_, diags, err := NewNormalizer(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.True(t, diags.HasErrors())
	require.Len(t, diags.Errors, 2)
	assert.Contains(t, diags.Error(), "tracklist[0]")
	assert.Contains(t, diags.Error(), "tracklist[1].track_id")
}

func TestNormalize_PositionDerivation(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [
			{"title": "A", "duration": 1},
			{"title": "B", "duration": 2},
			{"title": "C", "duration": 3},
			{"title": "D", "duration": 4}
		],
		"tracklist": [
			{"track_title": "A", "side": "a", "track_number": 1},
			{"track_title": "B", "disc_number": 2, "side": "B", "track_number": 3},
			{"track_title": "C", "track_number": 7},
			{"track_title": "D"}
		]
	}`
	b, _ := mustNormalize(t, raw)
	require.Len(t, b.Tracklist, 4)
	assert.Equal(t, "A1", b.Tracklist[0].Position)
	assert.Equal(t, "2-B3", b.Tracklist[1].Position)
	assert.Equal(t, "7", b.Tracklist[2].Position)
	assert.Equal(t, "4", b.Tracklist[3].Position)
}

func TestNormalize_PerformedByPromotion(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [
			{"title": "A", "duration": 1, "performed_by": "The Beatles"},
			{"title": "B", "duration": 2, "groups": ["Wings", {"name": "The Beatles", "role": "backing"}]}
		],
		"tracklist": [
			{"position": "1", "track_title": "A"},
			{"position": "2", "track_title": "B"}
		]
	}`
	b, _ := mustNormalize(t, raw)
	require.Len(t, b.Tracks[0].PerformedByGroups, 1)
	assert.Equal(t, "The Beatles", b.Tracks[0].PerformedByGroups[0].Name)

	require.Len(t, b.Tracks[1].PerformedByGroups, 2)
	assert.Equal(t, "Wings", b.Tracks[1].PerformedByGroups[0].Name)
	assert.Equal(t, "backing", b.Tracks[1].PerformedByGroups[1].Role)
}

func TestNormalize_MembersAreCompletePreserved(t *testing.T) {
	raw := `{
		"release": {"name": "R"},
		"tracks": [{
			"title": "A", "duration": 1,
			"performed_by_groups": [{
				"name": "G",
				"members": [{"name": "George", "role": "drums, backing vocals"}],
				"members_are_complete": true
			}]
		}],
		"tracklist": [{"position": "1", "track_title": "A"}]
	}`
	b, _ := mustNormalize(t, raw)
	pg := b.Tracks[0].PerformedByGroups[0]
	assert.True(t, pg.MembersAreComplete)
	require.Len(t, pg.Members, 1)
	assert.Equal(t, []string{"drums", "backing vocals"}, pg.Members[0].Roles)
}

func TestNormalize_LabelAndCityAliases(t *testing.T) {
	raw := `{
		"release": {
			"name": "R",
			"labels": [
				{"name": "Apple", "parent_label": "EMI", "city": "London"},
				{"name": "Parlophone", "parent_label": {"name": "EMI Group"}}
			]
		},
		"tracks": [{"title": "A", "duration": 1}],
		"tracklist": [{"position": "1", "track_title": "A"}]
	}`
	b, _ := mustNormalize(t, raw)
	require.Len(t, b.Release.Labels, 2)
	require.NotNil(t, b.Release.Labels[0].ParentLabel)
	assert.Equal(t, "EMI", b.Release.Labels[0].ParentLabel.Name)
	require.NotNil(t, b.Release.Labels[0].OriginCity)
	assert.Equal(t, "London", b.Release.Labels[0].OriginCity.Name)
	assert.Equal(t, "EMI Group", b.Release.Labels[1].ParentLabel.Name)
}

func TestNormalize_ErrorsAccumulate(t *testing.T) {
	raw := `{
		"release": {},
		"groups": [{"bio": "no name"}],
		"tracks": [{"duration": 1}],
		"tracklist": [{"position": "1", "track_title": "missing"}]
	}`
	_, diags, err := NewNormalizer(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.True(t, diags.HasErrors())
	// Group name, track title, and the dangling tracklist item all in
	// one diagnostic.
	assert.GreaterOrEqual(t, len(diags.Errors), 3)
}

func TestNormalize_IdempotentOnCanonicalInput(t *testing.T) {
	raw := `{
		"release": {"release_name": "The Beatles", "releaseDate": "1968-11-22"},
		"groups": [{"name": "The Beatles", "members": [{"name": "John", "role": "guitars"}]}],
		"tracks": [{"title": "Back in the U.S.S.R.", "duration": 164}],
		"tracklist": [{"position": "A1", "track_title": "Back in the U.S.S.R."}]
	}`
	first, _ := mustNormalize(t, raw)

	reJSON, err := json.Marshal(first)
	require.NoError(t, err)
	second, diags, err := NewNormalizer(nil).Normalize(reJSON)
	require.NoError(t, err)
	require.False(t, diags.HasErrors(), "diagnostics on canonical re-run: %v", diags.Errors)
	assert.Equal(t, first, second)
}

func TestNormalize_SchemaVersionGate(t *testing.T) {
	raw := `{
		"schema_version": "2.0.0",
		"release": {"name": "R"},
		"tracks": [{"title": "A", "duration": 1}],
		"tracklist": [{"position": "1", "track_title": "A"}]
	}`
	_, diags, err := NewNormalizer(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Error(), "schema_version")
}
