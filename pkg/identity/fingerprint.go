package identity

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/waxworks/discograph/pkg/canonical"
)

var foldCaser = cases.Fold()

// NormalizeName lowercases (Unicode case folding) and collapses runs of
// whitespace to single spaces. All fingerprint inputs pass through here
// so that cosmetic differences never split an identity.
func NormalizeName(s string) string {
	folded := foldCaser.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(folded), " ")
}

// PersonFingerprint fingerprints a person by name and optional birth year.
func PersonFingerprint(name, birthYear string) map[string]any {
	fp := map[string]any{"name": NormalizeName(name)}
	if birthYear = strings.TrimSpace(birthYear); birthYear != "" {
		fp["birth_year"] = birthYear
	}
	return fp
}

// GroupFingerprint fingerprints a group by name alone.
func GroupFingerprint(name string) map[string]any {
	return map[string]any{"name": NormalizeName(name)}
}

// SongFingerprint fingerprints a song by title and optional primary writer.
func SongFingerprint(title, primaryWriter string) map[string]any {
	fp := map[string]any{"title": NormalizeName(title)}
	if primaryWriter = NormalizeName(primaryWriter); primaryWriter != "" {
		fp["primary_writer"] = primaryWriter
	}
	return fp
}

// TrackFingerprint fingerprints a track by title plus optional release
// id and position. Tracks carrying an ISRC never reach this path; see
// ISRCProvisionalID.
func TrackFingerprint(title, releaseID, position string) map[string]any {
	fp := map[string]any{"title": NormalizeName(title)}
	if releaseID = strings.TrimSpace(releaseID); releaseID != "" {
		fp["release_id"] = releaseID
	}
	if position = strings.TrimSpace(position); position != "" {
		fp["position"] = position
	}
	return fp
}

// ReleaseFingerprint fingerprints a release by title plus optional date
// and catalog number.
func ReleaseFingerprint(title, date, catalogNumber string) map[string]any {
	fp := map[string]any{"title": NormalizeName(title)}
	if date = strings.TrimSpace(date); date != "" {
		fp["date"] = date
	}
	if catalogNumber = strings.TrimSpace(catalogNumber); catalogNumber != "" {
		fp["catalog_number"] = catalogNumber
	}
	return fp
}

// LabelFingerprint fingerprints a label by name.
func LabelFingerprint(name string) map[string]any {
	return map[string]any{"name": NormalizeName(name)}
}

// CityFingerprint fingerprints a city by name and optional coordinates.
func CityFingerprint(name string, lat, lon *float64) map[string]any {
	fp := map[string]any{"name": NormalizeName(name)}
	if lat != nil {
		fp["lat"] = *lat
	}
	if lon != nil {
		fp["lon"] = *lon
	}
	return fp
}

// SourceFingerprint fingerprints a source by URL.
func SourceFingerprint(url string) map[string]any {
	return map[string]any{"url": strings.TrimSpace(url)}
}

// TrackCatalogID derives the stable catalog id the bundle normalizer
// assigns to tracks without an ISRC: the first 16 hex characters of
// SHA-256("track:<normalized title>:<duration seconds>"), prefixed
// "prov:track:". A missing duration contributes 0.
func TrackCatalogID(title string, durationSeconds int) string {
	h := canonical.HashString(fmt.Sprintf("track:%s:%d", NormalizeName(title), durationSeconds))
	return "prov:track:" + canonical.Short16(h)
}
