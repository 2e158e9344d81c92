package identity

import (
	"fmt"
	"strings"
)

// Kind enumerates the entity kinds the graph knows about. It doubles as
// the claim-target whitelist: anything outside this set is rejected at
// the engine boundary, and node labels are always produced through the
// kind table rather than interpolated from input.
type Kind string

const (
	KindPerson  Kind = "person"
	KindGroup   Kind = "group"
	KindSong    Kind = "song"
	KindTrack   Kind = "track"
	KindRelease Kind = "release"
	KindMaster  Kind = "master"
	KindLabel   Kind = "label"
	KindCity    Kind = "city"
	KindSource  Kind = "source"
	KindAccount Kind = "account"
)

// kindInfo carries the graph label and kind-specific id field for a kind.
type kindInfo struct {
	label   string
	idField string
}

var kindTable = map[Kind]kindInfo{
	KindPerson:  {"Person", "person_id"},
	KindGroup:   {"Group", "group_id"},
	KindSong:    {"Song", "song_id"},
	KindTrack:   {"Track", "track_id"},
	KindRelease: {"Release", "release_id"},
	KindMaster:  {"Master", "master_id"},
	KindLabel:   {"Label", "label_id"},
	KindCity:    {"City", "city_id"},
	KindSource:  {"Source", "source_id"},
	KindAccount: {"Account", "account_id"},
}

// claimableKinds is the subset of kinds whose fields may be targeted by
// claims. Source and Account records are engine-owned.
var claimableKinds = map[Kind]bool{
	KindPerson:  true,
	KindGroup:   true,
	KindSong:    true,
	KindTrack:   true,
	KindRelease: true,
	KindMaster:  true,
	KindLabel:   true,
	KindCity:    true,
}

// ParseKind parses a kind string case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindTable[k]; !ok {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Claimable reports whether claims may target nodes of this kind.
func (k Kind) Claimable() bool {
	return claimableKinds[k]
}

// Label returns the graph node label for the kind, e.g. "Person".
func (k Kind) Label() string {
	return kindTable[k].label
}

// IDField returns the kind-specific id property, e.g. "person_id".
func (k Kind) IDField() string {
	return kindTable[k].idField
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindPerson, KindGroup, KindSong, KindTrack, KindRelease,
		KindMaster, KindLabel, KindCity, KindSource, KindAccount,
	}
}
