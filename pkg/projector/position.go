package projector

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	sideNumberRe  = regexp.MustCompile(`^([A-Z])(\d+)$`)
	numberOnlyRe  = regexp.MustCompile(`^(\d+)$`)
	discSideNumRe = regexp.MustCompile(`^(\d+)[- ]?([A-Z])(\d+)$`)
)

// Placement is a tracklist position decomposed into its parts.
type Placement struct {
	Disc   int
	Side   string // "" when the position carries no side
	Number int
}

// ParsePosition decomposes a position string with a fixed grammar:
// "A1" is side A track 1 on disc 1, "7" is plain track 7, "2-B3" is
// disc 2 side B track 3. Anything else falls back to the item's
// 1-based index on disc 1.
func ParsePosition(pos string, index int) Placement {
	pos = strings.ToUpper(strings.TrimSpace(pos))

	if m := sideNumberRe.FindStringSubmatch(pos); m != nil {
		n, _ := strconv.Atoi(m[2])
		return Placement{Disc: 1, Side: m[1], Number: n}
	}
	if m := numberOnlyRe.FindStringSubmatch(pos); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Placement{Disc: 1, Number: n}
	}
	if m := discSideNumRe.FindStringSubmatch(pos); m != nil {
		d, _ := strconv.Atoi(m[1])
		n, _ := strconv.Atoi(m[3])
		return Placement{Disc: d, Side: m[2], Number: n}
	}
	return Placement{Disc: 1, Number: index + 1}
}

// NormalizeTimestamp interprets an event timestamp that may arrive as
// Unix seconds or milliseconds. Values below 10^12 are seconds. Zero
// means the event carried no timestamp.
func NormalizeTimestamp(ts int64) int64 {
	if ts > 0 && ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}
