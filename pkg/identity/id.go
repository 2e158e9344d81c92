// Package identity classifies identifier strings, produces stable
// entity fingerprints, mints provisional ids, and resolves external
// registry ids to canonical ones through the IdentityMap.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/waxworks/discograph/pkg/canonical"
)

// Class is the classification of an identifier string.
type Class string

const (
	ClassCanonical   Class = "canonical"
	ClassProvisional Class = "provisional"
	ClassExternal    Class = "external"
	ClassInvalid     Class = "invalid"
)

// CanonicalNamespace prefixes every authoritative id minted by this
// system.
const CanonicalNamespace = "disco"

// externalSources are the foreign registries we accept references from.
var externalSources = map[string]bool{
	"discogs":     true,
	"musicbrainz": true,
	"isni":        true,
	"wikidata":    true,
	"spotify":     true,
}

var (
	provisionalRe = regexp.MustCompile(`^prov:(person|group|song|track|release|master|label|city|source):[0-9a-f]{16}$`)
	provISRCRe    = regexp.MustCompile(`^prov:track:isrc:[A-Z0-9]{12}$`)
	uuidLikeRe    = regexp.MustCompile(`^[0-9a-fA-F-]{8,}$`)
	isrcRe        = regexp.MustCompile(`^[A-Z0-9]{12}$`)
)

// ParsedID is the result of classifying an identifier string.
type ParsedID struct {
	Raw          string
	Class        Class
	Kind         Kind   // entity kind when determinable
	Source       string // external registry, for ClassExternal
	ExternalType string // optional subkind, e.g. "artist" in discogs:person:artist:123
	ExternalID   string // foreign id, for ClassExternal
}

// Valid reports whether the id parsed to a usable class.
func (p ParsedID) Valid() bool {
	return p.Class != ClassInvalid
}

// MapKey returns the IdentityMap key for an external id.
func (p ParsedID) MapKey() string {
	return MapKey(p.Source, p.Kind, p.ExternalID)
}

// MapKey builds the unique IdentityMap key for (source, kind, externalID).
func MapKey(source string, kind Kind, externalID string) string {
	return source + "|" + string(kind) + "|" + externalID
}

// ParseID classifies an identifier string as canonical, provisional,
// external, or invalid.
//
// Forms:
//
//	disco:<kind>:<uuid-like>                   canonical
//	prov:<kind>:<hex16>                        provisional
//	prov:track:isrc:<ISRC>                     provisional (ISRC fast path)
//	<source>:<kind>[:<subkind>]:<externalId>   external
func ParseID(s string) ParsedID {
	s = strings.TrimSpace(s)
	out := ParsedID{Raw: s, Class: ClassInvalid}
	if s == "" {
		return out
	}

	if provISRCRe.MatchString(s) {
		out.Class = ClassProvisional
		out.Kind = KindTrack
		return out
	}
	if provisionalRe.MatchString(s) {
		out.Class = ClassProvisional
		out.Kind = Kind(strings.Split(s, ":")[1])
		return out
	}

	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return out
	}

	kind, err := ParseKind(parts[1])
	if err != nil {
		return out
	}

	switch {
	case parts[0] == CanonicalNamespace:
		if len(parts) == 3 && uuidLikeRe.MatchString(parts[2]) {
			out.Class = ClassCanonical
			out.Kind = kind
		}
	case externalSources[parts[0]]:
		out.Class = ClassExternal
		out.Kind = kind
		out.Source = parts[0]
		switch len(parts) {
		case 3:
			out.ExternalID = parts[2]
		case 4:
			out.ExternalType = parts[2]
			out.ExternalID = parts[3]
		default:
			out.Class = ClassInvalid
		}
		if out.ExternalID == "" {
			out.Class = ClassInvalid
		}
	}
	return out
}

// MintCanonicalID produces a fresh authoritative id for kind.
func MintCanonicalID(kind Kind) string {
	return fmt.Sprintf("%s:%s:%s", CanonicalNamespace, kind, uuid.NewString())
}

// MakeProvisionalID derives a deterministic local id from a fingerprint.
// The fingerprint is canonicalized (RFC 8785) before hashing so field
// order never changes the result.
func MakeProvisionalID(kind Kind, fingerprint map[string]any) (string, error) {
	h, err := canonical.Hash(fingerprint)
	if err != nil {
		return "", fmt.Errorf("identity: fingerprint hash: %w", err)
	}
	return fmt.Sprintf("prov:%s:%s", kind, canonical.Short16(h)), nil
}

// ISRCProvisionalID is the fingerprint-free shortcut for tracks that
// carry an ISRC. Returns "" when the ISRC is not usable.
func ISRCProvisionalID(isrc string) string {
	isrc = strings.ToUpper(strings.TrimSpace(isrc))
	if !isrcRe.MatchString(isrc) {
		return ""
	}
	return "prov:track:isrc:" + isrc
}
