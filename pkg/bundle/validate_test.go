package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBundle() *Bundle {
	return &Bundle{
		Release: Release{Name: "The Beatles"},
		Tracks: []Track{
			{ID: "prov:track:0000000000000001", Title: "Back in the U.S.S.R.", Duration: 164},
		},
		Tracklist: []TracklistItem{
			{Position: "A1", TrackTitle: "Back in the U.S.S.R.", TrackID: "prov:track:0000000000000001"},
		},
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidate_AcceptsMinimalBundle(t *testing.T) {
	v := newTestValidator(t)
	assert.Nil(t, v.Validate(validBundle()))
}

func TestValidate_RequiredFields(t *testing.T) {
	v := newTestValidator(t)

	b := validBundle()
	b.Release.Name = ""
	diags := v.Validate(b)
	require.NotNil(t, diags)
	assert.Contains(t, diags.Error(), "/release/name")

	b = validBundle()
	b.Tracks = nil
	diags = v.Validate(b)
	require.NotNil(t, diags)

	b = validBundle()
	b.Tracklist = nil
	require.NotNil(t, v.Validate(b))
}

func TestValidate_EmptyTracksRejectedSingleTrackAccepted(t *testing.T) {
	v := newTestValidator(t)

	raw := `{"release": {"name": "R"}, "tracks": [], "tracklist": [{"position":"1","track_title":"A","track_id":"x"}]}`
	require.NotNil(t, v.ValidateJSON([]byte(raw)))

	assert.Nil(t, v.Validate(validBundle()))
}

func TestValidate_UnknownFieldsRejectedAtDepth(t *testing.T) {
	v := newTestValidator(t)

	raw := `{
		"release": {"name": "R", "bogus": 1},
		"tracks": [{"id": "x", "title": "A", "surprise": true}],
		"tracklist": [{"position": "1", "track_title": "A", "track_id": "x"}]
	}`
	diags := v.ValidateJSON([]byte(raw))
	require.NotNil(t, diags)
	assert.GreaterOrEqual(t, len(diags.Errors), 2)
}

func TestValidate_Ranges(t *testing.T) {
	v := newTestValidator(t)

	b := validBundle()
	b.Tracks[0].Duration = -1
	require.NotNil(t, v.Validate(b))

	lat, lon := 95.0, 10.0
	b = validBundle()
	b.Groups = []Group{{Name: "G", OriginCity: &City{Name: "X", Latitude: &lat, Longitude: &lon}}}
	diags := v.Validate(b)
	require.NotNil(t, diags)
	assert.Contains(t, diags.Error(), "latitude")

	share := validBundle()
	share.Songs = []Song{{Title: "S", Writers: []Writer{{Name: "W", SharePercentage: 120}}}}
	require.NotNil(t, v.Validate(share))
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	v := newTestValidator(t)

	raw := `{
		"release": {"name": ""},
		"tracks": [{"id": "", "title": ""}],
		"tracklist": [{"position": "", "track_title": "A", "track_id": "x"}]
	}`
	diags := v.ValidateJSON([]byte(raw))
	require.NotNil(t, diags)
	assert.GreaterOrEqual(t, len(diags.Errors), 3)
}
