// Package bundle turns submitted release bundles into the single
// canonical shape the projector consumes.
//
// Input is permissive: legacy field names, camelCase aliases, tracks
// embedded in the release, bare-string performers. Output is strict:
// one canonical schema, validated with additionalProperties:false at
// every depth. The transform is total modulo validation errors, which
// are accumulated across the whole bundle and returned as a single
// diagnostic; nothing partial is ever handed downstream.
package bundle

// Bundle is the canonical release bundle.
type Bundle struct {
	SchemaVersion string          `json:"schema_version,omitempty"`
	Release       Release         `json:"release"`
	Groups        []Group         `json:"groups,omitempty"`
	Tracks        []Track         `json:"tracks"`
	Tracklist     []TracklistItem `json:"tracklist"`
	Songs         []Song          `json:"songs,omitempty"`
	Sources       []Source        `json:"sources,omitempty"`
}

// Release describes the release itself.
type Release struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	ReleaseDate   string   `json:"release_date,omitempty"`
	Format        string   `json:"format,omitempty"`
	Country       string   `json:"country,omitempty"`
	CatalogNumber string   `json:"catalog_number,omitempty"`
	AlbumArt      string   `json:"album_art,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Master        string   `json:"master,omitempty"` // id or name
	Labels        []Label  `json:"labels,omitempty"`
	Guests        []Guest  `json:"guests,omitempty"`
	ListenLinks   []string `json:"listen_links,omitempty"`
}

// Group is a performing group with its release-level lineup.
type Group struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	AltNames      []string `json:"alt_names,omitempty"`
	Bio           string   `json:"bio,omitempty"`
	FormedDate    string   `json:"formed_date,omitempty"`
	DisbandedDate string   `json:"disbanded_date,omitempty"`
	OriginCity    *City    `json:"origin_city,omitempty"`
	Members       []Member `json:"members,omitempty"`
}

// Member is a person in a group lineup.
type Member struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	BirthName   string   `json:"birth_name,omitempty"`
	BirthDate   string   `json:"birth_date,omitempty"`
	OriginCity  *City    `json:"origin_city,omitempty"`
	FromDate    string   `json:"from_date,omitempty"`
	ToDate      string   `json:"to_date,omitempty"`
	Role        string   `json:"role,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
}

// Track is a catalog entry.
type Track struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Duration          int               `json:"duration,omitempty"`
	ISRC              string            `json:"isrc,omitempty"`
	RecordingDate     string            `json:"recording_date,omitempty"`
	Location          string            `json:"location,omitempty"`
	ListenLinks       []string          `json:"listen_links,omitempty"`
	PerformedByGroups []PerformingGroup `json:"performed_by_groups,omitempty"`
	Guests            []Guest           `json:"guests,omitempty"`
	Producers         []PersonRef       `json:"producers,omitempty"`
	Arrangers         []PersonRef       `json:"arrangers,omitempty"`
	RecordingOf       string            `json:"recording_of,omitempty"` // song id or title
	CoverOf           string            `json:"cover_of,omitempty"`
	Samples           []Sample          `json:"samples,omitempty"`
}

// PerformingGroup credits a group on a track, optionally with explicit
// member overrides.
type PerformingGroup struct {
	ID                 string   `json:"id,omitempty"`
	Name               string   `json:"name"`
	Role               string   `json:"role,omitempty"`
	CreditedAs         string   `json:"credited_as,omitempty"`
	Members            []Member `json:"members,omitempty"`
	MembersAreComplete bool     `json:"members_are_complete,omitempty"`
}

// Guest credits a person outside any group lineup.
type Guest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	RoleDetail  string   `json:"role_detail,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
	CreditedAs  string   `json:"credited_as,omitempty"`
}

// PersonRef names a person in a single-role credit (producer, arranger).
type PersonRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Sample records that a track samples another track.
type Sample struct {
	TrackID     string `json:"track_id,omitempty"`
	Title       string `json:"title,omitempty"`
	PortionUsed string `json:"portion_used,omitempty"`
	Cleared     bool   `json:"cleared,omitempty"`
	Source      string `json:"source,omitempty"`
}

// TracklistItem places a catalog track on the release.
type TracklistItem struct {
	Position    string `json:"position"`
	TrackTitle  string `json:"track_title"`
	TrackID     string `json:"track_id"`
	Duration    int    `json:"duration,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	Side        string `json:"side,omitempty"`
	IsBonus     bool   `json:"is_bonus,omitempty"`
}

// Song is a composition, distinct from its recordings.
type Song struct {
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title"`
	AltTitles []string `json:"alt_titles,omitempty"`
	ISWC      string   `json:"iswc,omitempty"`
	Year      int      `json:"year,omitempty"`
	Lyrics    string   `json:"lyrics,omitempty"`
	Writers   []Writer `json:"writers,omitempty"`
}

// Writer credits a person on a song.
type Writer struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	Role            string   `json:"role,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	RoleDetail      string   `json:"role_detail,omitempty"`
	CreditedAs      string   `json:"credited_as,omitempty"`
	SharePercentage float64  `json:"share_percentage,omitempty"`
}

// Label is a record label, possibly nested under a parent.
type Label struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	AltNames    []string `json:"alt_names,omitempty"`
	ParentLabel *Label   `json:"parent_label,omitempty"`
	OriginCity  *City    `json:"origin_city,omitempty"`
}

// City is a place of origin.
type City struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Source is an external reference backing the submission.
type Source struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url"`
	Type       string `json:"type,omitempty"`
	AccessedAt string `json:"accessed_at,omitempty"`
}
