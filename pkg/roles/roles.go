// Package roles canonicalizes free-text role labels: synonym folding,
// splitting of delimited lists, and first-seen-order deduplication.
package roles

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

var foldCaser = cases.Fold()

// defaultSynonyms is the built-in synonym table. Keys and values are
// already case-folded. Extensible at runtime via LoadTable.
var defaultSynonyms = map[string]string{
	"guitars":          "guitar",
	"gtr":              "guitar",
	"lead guitar":      "guitar",
	"rhythm guitars":   "rhythm guitar",
	"bass guitar":      "bass",
	"basses":           "bass",
	"upright bass":     "double bass",
	"keys":             "keyboards",
	"keyboard":         "keyboards",
	"synth":            "synthesizer",
	"synths":           "synthesizer",
	"drums kit":        "drums",
	"drum":             "drums",
	"drumkit":          "drums",
	"percussions":      "percussion",
	"vox":              "vocals",
	"vocal":            "vocals",
	"voice":            "vocals",
	"lead vox":         "lead vocals",
	"backing vox":      "backing vocals",
	"background vocal": "backing vocals",
	"bgv":              "backing vocals",
	"harmony vocals":   "backing vocals",
	"prod":             "producer",
	"produced by":      "producer",
	"producing":        "producer",
	"co-prod":          "co-producer",
	"exec producer":    "executive producer",
	"mix":              "mixing",
	"mixed by":         "mixing",
	"mastered by":      "mastering",
	"eng":              "engineer",
	"engineering":      "engineer",
	"recording eng":    "recording engineer",
	"lyricist":         "lyrics",
	"lyric":            "lyrics",
	"words":            "lyrics",
	"composer":         "composer",
	"composition":      "composer",
	"writer":           "songwriter",
	"writing":          "songwriter",
	"arranger":         "arrangement",
	"arranged by":      "arrangement",
	"strings arranger": "string arrangement",
	"dj":               "turntables",
	"scratches":        "turntables",
	"feat":             "featured",
	"featuring":        "featured",
	"sax":              "saxophone",
	"trpt":             "trumpet",
	"violins":          "violin",
	"cellos":           "cello",
}

// Normalizer folds role labels to their canonical spellings.
type Normalizer struct {
	synonyms map[string]string
}

// NewNormalizer returns a normalizer with the built-in synonym table.
func NewNormalizer() *Normalizer {
	syn := make(map[string]string, len(defaultSynonyms))
	for k, v := range defaultSynonyms {
		syn[k] = v
	}
	return &Normalizer{synonyms: syn}
}

// LoadTable merges synonym overrides from a YAML file of the form
// `alias: canonical`. Overrides win over the built-in table.
func (n *Normalizer) LoadTable(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("roles: read synonym table: %w", err)
	}
	var table map[string]string
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("roles: parse synonym table: %w", err)
	}
	for k, v := range table {
		n.synonyms[fold(k)] = fold(v)
	}
	return nil
}

// Normalize produces the canonical, deduplicated role list from input,
// which may be a string, a comma/semicolon-delimited string, a []string,
// or a []any of strings. Empty and unrecognized inputs fold to an empty
// list; order of first appearance is preserved.
func (n *Normalizer) Normalize(input any) []string {
	var raw []string
	switch v := input.(type) {
	case nil:
		return []string{}
	case string:
		raw = splitList(v)
	case []string:
		for _, s := range v {
			raw = append(raw, splitList(s)...)
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				raw = append(raw, splitList(s)...)
			}
		}
	default:
		return []string{}
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		canon := n.Canonical(r)
		if canon == "" || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	return out
}

// Canonical folds a single label: trim, case-fold, then synonym lookup.
// Labels with no synonym entry pass through folded.
func (n *Normalizer) Canonical(label string) string {
	f := fold(label)
	if canon, ok := n.synonyms[f]; ok {
		return canon
	}
	return f
}

func fold(s string) string {
	return strings.Join(strings.Fields(foldCaser.String(strings.TrimSpace(s))), " ")
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
