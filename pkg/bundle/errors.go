package bundle

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError pins a single diagnostic to a path inside the bundle,
// e.g. "tracklist[2].track_id".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors is the aggregated diagnostic for a rejected bundle.
// Every offending path is listed; the caller gets the whole picture in
// one round trip.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
	// Notes are non-fatal diagnostics (dropped duplicates and the
	// like); present even on success.
	Notes []string `json:"notes,omitempty"`
}

func (v *ValidationErrors) addf(path, format string, args ...any) {
	v.Errors = append(v.Errors, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationErrors) notef(format string, args ...any) {
	v.Notes = append(v.Notes, fmt.Sprintf(format, args...))
}

func (v *ValidationErrors) merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Notes = append(v.Notes, other.Notes...)
}

// HasErrors reports whether any fatal diagnostic was recorded.
func (v *ValidationErrors) HasErrors() bool {
	return v != nil && len(v.Errors) > 0
}

// Error renders every diagnostic, newline-separated and path-prefixed.
func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	sort.Strings(msgs)
	return "bundle validation failed:\n" + strings.Join(msgs, "\n")
}
