package graph

// UniqueConstraint declares a single-property uniqueness constraint.
type UniqueConstraint struct {
	Label    string
	Property string
}

// Index declares a (possibly composite) property index.
type Index struct {
	Label      string
	Properties []string
}

var entityLabels = []struct {
	label   string
	idField string
}{
	{"Person", "person_id"},
	{"Group", "group_id"},
	{"Song", "song_id"},
	{"Track", "track_id"},
	{"Release", "release_id"},
	{"Master", "master_id"},
	{"Label", "label_id"},
	{"City", "city_id"},
	{"Source", "source_id"},
	{"Account", "account_id"},
}

// Constraints returns the uniqueness constraints required at startup:
// (<Kind>, <kind>_id) and (<Kind>, id) per entity label, plus the
// engine-owned record labels.
func Constraints() []UniqueConstraint {
	out := make([]UniqueConstraint, 0, len(entityLabels)*2+3)
	for _, e := range entityLabels {
		out = append(out,
			UniqueConstraint{Label: e.label, Property: e.idField},
			UniqueConstraint{Label: e.label, Property: "id"},
		)
	}
	out = append(out,
		UniqueConstraint{Label: "Claim", Property: "claim_id"},
		UniqueConstraint{Label: "IdentityMap", Property: "key"},
		UniqueConstraint{Label: "MergeRecord", Property: "merge_id"},
	)
	return out
}

// Indexes returns the search indexes required at startup.
func Indexes() []Index {
	return []Index{
		{Label: "Person", Properties: []string{"name"}},
		{Label: "Group", Properties: []string{"name"}},
		{Label: "Label", Properties: []string{"name"}},
		{Label: "Song", Properties: []string{"title"}},
		{Label: "Track", Properties: []string{"title"}},
		{Label: "Release", Properties: []string{"name"}},
		{Label: "Release", Properties: []string{"release_date"}},
		{Label: "Group", Properties: []string{"formed_date"}},
		{Label: "City", Properties: []string{"latitude", "longitude"}},
		{Label: "Person", Properties: []string{"status"}},
		{Label: "Group", Properties: []string{"status"}},
		{Label: "Claim", Properties: []string{"event_hash"}},
	}
}
