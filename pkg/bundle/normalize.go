package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/waxworks/discograph/pkg/identity"
	"github.com/waxworks/discograph/pkg/roles"
)

// schemaVersionRange is the accepted range for an explicit
// schema_version on the submitted bundle.
var schemaVersionRange = func() *semver.Constraints {
	c, err := semver.NewConstraint("^1")
	if err != nil {
		panic(err)
	}
	return c
}()

// Normalizer folds permissive input bundles into the canonical shape.
type Normalizer struct {
	roles *roles.Normalizer
}

// NewNormalizer builds a normalizer around the given role table.
func NewNormalizer(r *roles.Normalizer) *Normalizer {
	if r == nil {
		r = roles.NewNormalizer()
	}
	return &Normalizer{roles: r}
}

// Normalize parses raw JSON and produces the canonical bundle, or a
// *ValidationErrors listing every offending path. On failure nothing is
// returned: a bundle is all-or-nothing.
func (n *Normalizer) Normalize(raw []byte) (*Bundle, *ValidationErrors, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, nil, fmt.Errorf("bundle: parse: %w", err)
	}
	root, ok := top.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("bundle: top-level value is not an object")
	}

	w := &walk{roles: n.roles, diags: &ValidationErrors{}}
	b := w.bundle(snakeKeys(root).(map[string]any))
	if w.diags.HasErrors() {
		return nil, w.diags, nil
	}
	return b, w.diags, nil
}

// walk carries the diagnostic accumulator through one normalization.
type walk struct {
	roles *roles.Normalizer
	diags *ValidationErrors
}

func (w *walk) bundle(root map[string]any) *Bundle {
	b := &Bundle{}

	if v := w.optStr(root, "", "schema_version"); v != "" {
		ver, err := semver.NewVersion(v)
		if err != nil {
			w.diags.addf("schema_version", "not a semantic version: %q", v)
		} else if !schemaVersionRange.Check(ver) {
			w.diags.addf("schema_version", "unsupported version %q (accepted: ^1)", v)
		} else {
			b.SchemaVersion = v
		}
	}

	relRaw := w.optObj(root, "", "release")
	if relRaw == nil {
		w.diags.addf("release", "required object is missing")
		relRaw = map[string]any{}
	}
	b.Release = w.release(relRaw)

	for i, g := range w.objList(root, "", "groups") {
		b.Groups = append(b.Groups, w.group(g, fmt.Sprintf("groups[%d]", i)))
	}

	b.Tracks = w.trackCatalog(root, relRaw)
	b.Tracklist = w.tracklist(root, b.Tracks)

	for i, s := range w.objList(root, "", "songs") {
		b.Songs = append(b.Songs, w.song(s, fmt.Sprintf("songs[%d]", i)))
	}
	for i, s := range w.objList(root, "", "sources") {
		b.Sources = append(b.Sources, w.source(s, fmt.Sprintf("sources[%d]", i)))
	}
	return b
}

func (w *walk) release(o map[string]any) Release {
	const path = "release"
	// Legacy alias: release_name wins only when name is absent.
	name := w.optStr(o, path, "name")
	if name == "" {
		name = w.optStr(o, path, "release_name")
	}
	r := Release{
		ID:            w.optStr(o, path, "id"),
		Name:          name,
		ReleaseDate:   w.optStr(o, path, "release_date"),
		Format:        w.optStr(o, path, "format"),
		Country:       w.optStr(o, path, "country"),
		CatalogNumber: w.optStr(o, path, "catalog_number"),
		AlbumArt:      w.optStr(o, path, "album_art"),
		Notes:         w.optStr(o, path, "notes"),
		Master:        w.optStr(o, path, "master"),
		ListenLinks:   w.strList(o, path, "listen_links"),
	}
	for i, l := range w.objList(o, path, "labels") {
		r.Labels = append(r.Labels, w.label(l, fmt.Sprintf("%s.labels[%d]", path, i)))
	}
	for i, g := range w.objList(o, path, "guests") {
		r.Guests = append(r.Guests, w.guest(g, fmt.Sprintf("%s.guests[%d]", path, i)))
	}
	return r
}

func (w *walk) group(o map[string]any, path string) Group {
	g := Group{
		ID:            w.optStr(o, path, "id"),
		Name:          w.optStr(o, path, "name"),
		AltNames:      w.strList(o, path, "alt_names"),
		Bio:           w.optStr(o, path, "bio"),
		FormedDate:    w.optStr(o, path, "formed_date"),
		DisbandedDate: w.optStr(o, path, "disbanded_date"),
		OriginCity:    w.city(o, path),
	}
	if g.Name == "" {
		w.diags.addf(path+".name", "group name is required")
	}
	for i, m := range w.objList(o, path, "members") {
		g.Members = append(g.Members, w.member(m, fmt.Sprintf("%s.members[%d]", path, i)))
	}
	return g
}

func (w *walk) member(o map[string]any, path string) Member {
	m := Member{
		ID:         w.optStr(o, path, "id"),
		Name:       w.optStr(o, path, "name"),
		BirthName:  w.optStr(o, path, "birth_name"),
		BirthDate:  w.optStr(o, path, "birth_date"),
		OriginCity: w.city(o, path),
		FromDate:   w.optStr(o, path, "from_date"),
		ToDate:     w.optStr(o, path, "to_date"),
	}
	if m.Name == "" && m.ID == "" {
		w.diags.addf(path, "member needs a name or an id")
	}
	m.Role, m.Roles = w.roleSet(o)
	m.Instruments = w.roles.Normalize(o["instruments"])
	return m
}

// roleSet normalizes the role/roles pair: roles becomes the canonical
// deduplicated list, role the primary (first) label.
func (w *walk) roleSet(o map[string]any) (string, []string) {
	var inputs []any
	if v, ok := o["role"]; ok {
		inputs = append(inputs, v)
	}
	if v, ok := o["roles"]; ok {
		inputs = append(inputs, v)
	}
	var all []string
	seen := map[string]bool{}
	for _, in := range inputs {
		for _, r := range w.roles.Normalize(in) {
			if !seen[r] {
				seen[r] = true
				all = append(all, r)
			}
		}
	}
	if len(all) == 0 {
		return "", nil
	}
	return all[0], all
}

func (w *walk) guest(o map[string]any, path string) Guest {
	g := Guest{
		ID:         w.optStr(o, path, "id"),
		Name:       w.optStr(o, path, "name"),
		RoleDetail: w.optStr(o, path, "role_detail"),
		CreditedAs: w.optStr(o, path, "credited_as"),
	}
	if g.Name == "" && g.ID == "" {
		w.diags.addf(path, "guest needs a name or an id")
	}
	g.Role, g.Roles = w.roleSet(o)
	g.Instruments = w.roles.Normalize(o["instruments"])
	return g
}

func (w *walk) personRef(o map[string]any, path string) PersonRef {
	p := PersonRef{
		ID:   w.optStr(o, path, "id"),
		Name: w.optStr(o, path, "name"),
	}
	if p.Name == "" && p.ID == "" {
		w.diags.addf(path, "credit needs a name or an id")
	}
	if role, _ := w.roleSet(o); role != "" {
		p.Role = role
	}
	return p
}

func (w *walk) label(o map[string]any, path string) Label {
	l := Label{
		ID:         w.optStr(o, path, "id"),
		Name:       w.optStr(o, path, "name"),
		AltNames:   w.strList(o, path, "alt_names"),
		OriginCity: w.city(o, path),
	}
	if l.Name == "" {
		w.diags.addf(path+".name", "label name is required")
	}
	// parent_label arrives as a string or an object.
	switch p := o["parent_label"].(type) {
	case nil:
	case string:
		if p = strings.TrimSpace(p); p != "" {
			l.ParentLabel = &Label{Name: p}
		}
	case map[string]any:
		parent := w.label(p, path+".parent_label")
		l.ParentLabel = &parent
	default:
		w.diags.addf(path+".parent_label", "expected string or object, got %T", p)
	}
	return l
}

// city reads origin_city, honoring the deprecated "city" alias.
func (w *walk) city(o map[string]any, path string) *City {
	raw, ok := o["origin_city"]
	if !ok {
		raw, ok = o["city"]
	}
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		return &City{Name: v}
	case map[string]any:
		cPath := path + ".origin_city"
		c := &City{
			ID:   w.optStr(v, cPath, "id"),
			Name: w.optStr(v, cPath, "name"),
		}
		c.Latitude = w.optFloat(v, cPath, "latitude")
		c.Longitude = w.optFloat(v, cPath, "longitude")
		if c.Name == "" {
			w.diags.addf(cPath+".name", "city name is required")
		}
		return c
	default:
		w.diags.addf(path+".origin_city", "expected string or object, got %T", raw)
		return nil
	}
}

func (w *walk) song(o map[string]any, path string) Song {
	s := Song{
		ID:        w.optStr(o, path, "id"),
		Title:     w.optStr(o, path, "title"),
		AltTitles: w.strList(o, path, "alt_titles"),
		ISWC:      w.optStr(o, path, "iswc"),
		Year:      w.optInt(o, path, "year"),
		Lyrics:    w.optStr(o, path, "lyrics"),
	}
	if s.Title == "" {
		w.diags.addf(path+".title", "song title is required")
	}
	for i, wr := range w.objList(o, path, "writers") {
		wPath := fmt.Sprintf("%s.writers[%d]", path, i)
		writer := Writer{
			ID:         w.optStr(wr, wPath, "id"),
			Name:       w.optStr(wr, wPath, "name"),
			RoleDetail: w.optStr(wr, wPath, "role_detail"),
			CreditedAs: w.optStr(wr, wPath, "credited_as"),
		}
		if writer.Name == "" && writer.ID == "" {
			w.diags.addf(wPath, "writer needs a name or an id")
		}
		writer.Role, writer.Roles = w.roleSet(wr)
		if num, ok := wr["share_percentage"].(json.Number); ok {
			f, err := num.Float64()
			if err != nil || f < 0 || f > 100 {
				w.diags.addf(wPath+".share_percentage", "must be a number in [0,100]")
			} else {
				writer.SharePercentage = f
			}
		}
		s.Writers = append(s.Writers, writer)
	}
	return s
}

func (w *walk) source(o map[string]any, path string) Source {
	s := Source{
		ID:         w.optStr(o, path, "id"),
		URL:        w.optStr(o, path, "url"),
		Type:       w.optStr(o, path, "type"),
		AccessedAt: w.optStr(o, path, "accessed_at"),
	}
	if s.URL == "" {
		w.diags.addf(path+".url", "source url is required")
	}
	return s
}

// trackCatalog builds the canonical track list. Priority:
// bundle.tracks > release.tracks > derive from tracklist.
func (w *walk) trackCatalog(root, release map[string]any) []Track {
	var rawTracks []map[string]any
	basePath := "tracks"
	switch {
	case root["tracks"] != nil:
		rawTracks = w.objList(root, "", "tracks")
	case release["tracks"] != nil:
		rawTracks = w.objList(release, "release", "tracks")
		basePath = "release.tracks"
	default:
		// Derive minimal tracks from tracklist titles.
		for i, item := range w.objList(root, "", "tracklist") {
			title := w.optStr(item, fmt.Sprintf("tracklist[%d]", i), "track_title")
			if title == "" {
				title = w.optStr(item, fmt.Sprintf("tracklist[%d]", i), "title")
			}
			if title == "" {
				continue
			}
			rawTracks = append(rawTracks, map[string]any{
				"title":    title,
				"duration": item["duration"],
			})
		}
		basePath = "tracklist"
	}

	var out []Track
	seen := map[string]int{}
	for i, o := range rawTracks {
		path := fmt.Sprintf("%s[%d]", basePath, i)
		t := w.track(o, path)
		if t.ID == "" {
			continue // diagnostics already recorded
		}
		if at, dup := seen[t.ID]; dup {
			w.diags.notef("%s: duplicate track id %s (first seen at index %d), dropped", path, t.ID, at)
			continue
		}
		seen[t.ID] = i
		out = append(out, t)
	}
	return out
}

func (w *walk) track(o map[string]any, path string) Track {
	t := Track{
		Title:         w.optStr(o, path, "title"),
		Duration:      w.optInt(o, path, "duration"),
		ISRC:          strings.ToUpper(w.optStr(o, path, "isrc")),
		RecordingDate: w.optStr(o, path, "recording_date"),
		Location:      w.optStr(o, path, "location"),
		ListenLinks:   w.strList(o, path, "listen_links"),
		RecordingOf:   w.optStr(o, path, "recording_of"),
		CoverOf:       w.optStr(o, path, "cover_of"),
	}
	if t.Title == "" {
		w.diags.addf(path+".title", "track title is required")
	}
	if t.Duration < 0 {
		w.diags.addf(path+".duration", "duration must be non-negative")
	}

	// Stable id: explicit > ISRC shortcut > title+duration derivation.
	switch {
	case w.optStr(o, path, "id") != "":
		t.ID = w.optStr(o, path, "id")
	case w.optStr(o, path, "track_id") != "":
		t.ID = w.optStr(o, path, "track_id")
	case identity.ISRCProvisionalID(t.ISRC) != "":
		t.ID = identity.ISRCProvisionalID(t.ISRC)
	case t.Title != "":
		t.ID = identity.TrackCatalogID(t.Title, t.Duration)
	}

	t.PerformedByGroups = w.performingGroups(o, path)
	for i, g := range w.objList(o, path, "guests") {
		t.Guests = append(t.Guests, w.guest(g, fmt.Sprintf("%s.guests[%d]", path, i)))
	}
	for i, p := range w.objList(o, path, "producers") {
		t.Producers = append(t.Producers, w.personRef(p, fmt.Sprintf("%s.producers[%d]", path, i)))
	}
	for i, p := range w.objList(o, path, "arrangers") {
		t.Arrangers = append(t.Arrangers, w.personRef(p, fmt.Sprintf("%s.arrangers[%d]", path, i)))
	}
	for i, s := range w.objList(o, path, "samples") {
		sPath := fmt.Sprintf("%s.samples[%d]", path, i)
		sample := Sample{
			TrackID:     w.optStr(s, sPath, "track_id"),
			Title:       w.optStr(s, sPath, "title"),
			PortionUsed: w.optStr(s, sPath, "portion_used"),
			Source:      w.optStr(s, sPath, "source"),
		}
		if b, ok := s["cleared"].(bool); ok {
			sample.Cleared = b
		}
		if sample.TrackID == "" && sample.Title == "" {
			w.diags.addf(sPath, "sample needs a track_id or a title")
		}
		t.Samples = append(t.Samples, sample)
	}
	return t
}

// performingGroups folds the three accepted forms into the canonical
// one: performed_by_groups (canonical) > groups (legacy objects or
// strings) > performed_by (bare string, promoted to [{name}]).
func (w *walk) performingGroups(o map[string]any, path string) []PerformingGroup {
	var raw any
	field := "performed_by_groups"
	if o["performed_by_groups"] != nil {
		raw = o["performed_by_groups"]
	} else if o["groups"] != nil {
		raw = o["groups"]
		field = "groups"
	} else if s, ok := o["performed_by"].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return []PerformingGroup{{Name: s}}
		}
		return nil
	} else if o["performed_by"] != nil {
		w.diags.addf(path+".performed_by", "expected string, got %T", o["performed_by"])
		return nil
	} else {
		return nil
	}

	list, ok := raw.([]any)
	if !ok {
		w.diags.addf(path+"."+field, "expected array, got %T", raw)
		return nil
	}
	var out []PerformingGroup
	for i, e := range list {
		ePath := fmt.Sprintf("%s.%s[%d]", path, field, i)
		switch v := e.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, PerformingGroup{Name: v})
			}
		case map[string]any:
			pg := PerformingGroup{
				ID:         w.optStr(v, ePath, "id"),
				Name:       w.optStr(v, ePath, "name"),
				CreditedAs: w.optStr(v, ePath, "credited_as"),
			}
			pg.Role, _ = w.roleSet(v)
			if b, ok := v["members_are_complete"].(bool); ok {
				pg.MembersAreComplete = b
			}
			for j, m := range w.objList(v, ePath, "members") {
				pg.Members = append(pg.Members, w.member(m, fmt.Sprintf("%s.members[%d]", ePath, j)))
			}
			if pg.Name == "" && pg.ID == "" {
				w.diags.addf(ePath, "performing group needs a name or an id")
				continue
			}
			out = append(out, pg)
		default:
			w.diags.addf(ePath, "expected string or object, got %T", e)
		}
	}
	return out
}

// tracklist reconciles tracklist items against the catalog and derives
// missing positions.
func (w *walk) tracklist(root map[string]any, catalog []Track) []TracklistItem {
	byID := make(map[string]Track, len(catalog))
	byTitle := make(map[string]Track, len(catalog))
	for _, t := range catalog {
		byID[t.ID] = t
		byTitle[identity.NormalizeName(t.Title)] = t
	}

	var out []TracklistItem
	for i, o := range w.objList(root, "", "tracklist") {
		path := fmt.Sprintf("tracklist[%d]", i)
		item := TracklistItem{
			Position:    w.optStr(o, path, "position"),
			TrackTitle:  w.optStr(o, path, "track_title"),
			TrackID:     w.optStr(o, path, "track_id"),
			Duration:    w.optInt(o, path, "duration"),
			DiscNumber:  w.optInt(o, path, "disc_number"),
			TrackNumber: w.optInt(o, path, "track_number"),
			Side:        strings.ToUpper(w.optStr(o, path, "side")),
		}
		if item.TrackTitle == "" {
			item.TrackTitle = w.optStr(o, path, "title")
		}
		if b, ok := o["is_bonus"].(bool); ok {
			item.IsBonus = b
		}

		// Resolve the catalog track.
		if item.TrackID != "" {
			if _, ok := byID[item.TrackID]; !ok {
				w.diags.addf(path+".track_id", "track %s is not in the bundle's track catalog", item.TrackID)
				continue
			}
		} else {
			match, ok := byTitle[identity.NormalizeName(item.TrackTitle)]
			if !ok {
				w.diags.addf(path, "no catalog track matches title %q", item.TrackTitle)
				continue
			}
			item.TrackID = match.ID
		}
		if item.TrackTitle == "" {
			item.TrackTitle = byID[item.TrackID].Title
		}
		if item.Duration == 0 {
			item.Duration = byID[item.TrackID].Duration
		}

		if item.Position == "" {
			item.Position = derivePosition(item, i)
		}
		out = append(out, item)
	}
	return out
}

// derivePosition synthesizes a position for items that arrived without
// one: "<disc>-<side><number>", "<side><number>", "<number>", or the
// 1-based index as a last resort.
func derivePosition(item TracklistItem, index int) string {
	switch {
	case item.DiscNumber > 1 && item.Side != "" && item.TrackNumber > 0:
		return fmt.Sprintf("%d-%s%d", item.DiscNumber, item.Side, item.TrackNumber)
	case item.Side != "" && item.TrackNumber > 0:
		return fmt.Sprintf("%s%d", item.Side, item.TrackNumber)
	case item.TrackNumber > 0:
		return fmt.Sprintf("%d", item.TrackNumber)
	default:
		return fmt.Sprintf("%d", index+1)
	}
}

// --- typed accessors -------------------------------------------------

func (w *walk) optStr(o map[string]any, path, key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		w.diags.addf(joinPath(path, key), "expected string, got %T", v)
		return ""
	}
	return strings.TrimSpace(s)
}

func (w *walk) optInt(o map[string]any, path, key string) int {
	v, ok := o[key]
	if !ok || v == nil {
		return 0
	}
	num, ok := v.(json.Number)
	if !ok {
		w.diags.addf(joinPath(path, key), "expected number, got %T", v)
		return 0
	}
	i, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil {
			w.diags.addf(joinPath(path, key), "not a usable number: %q", num.String())
			return 0
		}
		i = int64(f)
	}
	return int(i)
}

func (w *walk) optFloat(o map[string]any, path, key string) *float64 {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	num, ok := v.(json.Number)
	if !ok {
		w.diags.addf(joinPath(path, key), "expected number, got %T", v)
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		w.diags.addf(joinPath(path, key), "not a usable number: %q", num.String())
		return nil
	}
	return &f
}

func (w *walk) strList(o map[string]any, path, key string) []string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		if s, isStr := v.(string); isStr {
			if s = strings.TrimSpace(s); s != "" {
				return []string{s}
			}
			return nil
		}
		w.diags.addf(joinPath(path, key), "expected array of strings, got %T", v)
		return nil
	}
	var out []string
	for i, e := range list {
		s, ok := e.(string)
		if !ok {
			w.diags.addf(fmt.Sprintf("%s[%d]", joinPath(path, key), i), "expected string, got %T", e)
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (w *walk) objList(o map[string]any, path, key string) []map[string]any {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		w.diags.addf(joinPath(path, key), "expected array, got %T", v)
		return nil
	}
	var out []map[string]any
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			w.diags.addf(fmt.Sprintf("%s[%d]", joinPath(path, key), i), "expected object, got %T", e)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (w *walk) optObj(o map[string]any, path, key string) map[string]any {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		w.diags.addf(joinPath(path, key), "expected object, got %T", v)
		return nil
	}
	return m
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// --- key folding -----------------------------------------------------

// snakeKeys recursively rewrites camelCase object keys to snake_case,
// so the rest of the walk only ever sees canonical names.
func snakeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			nk := camelToSnake(k)
			// A canonical key already present wins over its alias.
			if _, exists := out[nk]; exists && nk != k {
				continue
			}
			out[nk] = snakeKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = snakeKeys(e)
		}
		return t
	default:
		return v
	}
}

func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && s[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
