// Package projector applies a validated release bundle to the graph in
// one transaction. Every write is a MERGE-style upsert and every
// generated identifier derives from the event hash plus a monotonic
// operation index, so replaying an event reproduces the graph state
// exactly.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waxworks/discograph/pkg/bundle"
	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/claims"
	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/identity"
	"github.com/waxworks/discograph/pkg/roles"
)

// Stats summarizes what one projection did.
type Stats struct {
	NodesCreated int
	NodesMatched int
	Edges        int
	Claims       int
	Warnings     int
}

// Engine projects bundles. Safe for concurrent use; all per-event state
// lives in the projection.
type Engine struct {
	resolver identity.Resolver
	roles    *roles.Normalizer
	claims   *claims.Engine
	log      *slog.Logger
}

// New builds a projector around a role normalizer and claim engine.
func New(rn *roles.Normalizer, ce *claims.Engine, log *slog.Logger) *Engine {
	if rn == nil {
		rn = roles.NewNormalizer()
	}
	if ce == nil {
		ce = claims.NewEngine(log)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{roles: rn, claims: ce, log: log.With("component", "projector")}
}

// lineupMember is one entry of a group's release-level lineup, kept for
// derived-edge propagation.
type lineupMember struct {
	id          string
	name        string
	role        string
	roles       []string
	instruments []string
}

// projection is the per-event working state.
type projection struct {
	e         *Engine
	tx        graph.Tx
	eventHash string
	b         *bundle.Bundle
	submitter string
	at        time.Time
	opIndex   int

	releaseID    string
	lineupByID   map[string][]lineupMember
	lineupByName map[string][]lineupMember
	songByTitle  map[string]string
	stats        Stats
}

// ProjectBundle applies the bundle inside tx. eventTs may be Unix
// seconds or milliseconds; zero falls back to wall clock. Returns the
// resolved release id.
func (e *Engine) ProjectBundle(ctx context.Context, tx graph.Tx, eventHash string, b *bundle.Bundle, submitter string, eventTs int64) (string, Stats, error) {
	at := time.Now()
	if ms := NormalizeTimestamp(eventTs); ms > 0 {
		at = time.UnixMilli(ms)
	}
	p := &projection{
		e:            e,
		tx:           tx,
		eventHash:    eventHash,
		b:            b,
		submitter:    submitter,
		at:           at,
		lineupByID:   map[string][]lineupMember{},
		lineupByName: map[string][]lineupMember{},
		songByTitle:  map[string]string{},
	}

	steps := []func(context.Context) error{
		p.projectGroups,
		p.projectRelease,
		p.projectSongs,
		p.projectTracks,
		p.projectTracklist,
		p.projectLabelsAndMaster,
		p.projectSources,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return "", p.stats, err
		}
	}

	e.log.InfoContext(ctx, "bundle projected",
		"event_hash", eventHash, "release_id", p.releaseID,
		"nodes_created", p.stats.NodesCreated, "edges", p.stats.Edges,
		"warnings", p.stats.Warnings)
	return p.releaseID, p.stats, nil
}

// nextOp mints the next deterministic sub-operation id. Every code path
// consumes ids in a fixed order so replays reproduce them.
func (p *projection) nextOp() string {
	id := canonical.OpHash(p.eventHash, p.opIndex)
	p.opIndex++
	return id
}

// upsertEntity resolves ref, follows tombstones to the live node,
// merges the node, and writes its creation audit claim.
func (p *projection) upsertEntity(ctx context.Context, kind identity.Kind, ref identity.Ref, props graph.Props, payload any) (string, error) {
	res, err := p.e.resolver.Resolve(ctx, p.tx, kind, ref)
	if err != nil {
		return "", err
	}
	id, err := p.e.resolver.ResolveLive(ctx, p.tx, kind, res.ID)
	if err != nil {
		return "", err
	}

	merged := graph.Props{"event_hash": p.eventHash, "updated_at": p.at.UnixMilli()}
	for k, v := range props {
		merged[k] = v
	}
	created, err := p.tx.UpsertNode(ctx, kind.Label(), kind.IDField(), id, merged)
	if err != nil {
		return "", err
	}
	if created {
		p.stats.NodesCreated++
		status := "PROVISIONAL"
		if res.IDKind == identity.ClassCanonical {
			status = "ACTIVE"
		}
		init := graph.Props{
			"status":     status,
			"id_kind":    string(res.IDKind),
			"created_at": p.at.UnixMilli(),
			"created_by": p.submitter,
		}
		if res.External != nil {
			init["external_source"] = res.External.Source
			init["external_id"] = res.External.ExternalID
		}
		if err := p.tx.SetNodeProps(ctx, kind.Label(), "id", id, init); err != nil {
			return "", err
		}
	} else {
		p.stats.NodesMatched++
	}

	// The audit claim id is consumed whether or not the node already
	// existed, so replays keep the op index aligned.
	claimID := p.nextOp()
	if err := p.e.claims.RecordCreation(ctx, p.tx, claimID, kind, id, payload, p.submitter, p.eventHash, p.at); err != nil {
		return "", err
	}
	p.stats.Claims++
	return id, nil
}

// credEdge upserts a credited relationship carrying a deterministic
// claim_id.
func (p *projection) credEdge(ctx context.Context, relType string, from, to graph.NodeRef, key, props graph.Props) error {
	merged := graph.Props{"claim_id": p.nextOp()}
	for k, v := range props {
		merged[k] = v
	}
	if err := p.tx.UpsertEdge(ctx, relType, from, to, key, merged); err != nil {
		return err
	}
	p.stats.Edges++
	return nil
}

func (p *projection) plainEdge(ctx context.Context, relType string, from, to graph.NodeRef, key, props graph.Props) error {
	if err := p.tx.UpsertEdge(ctx, relType, from, to, key, props); err != nil {
		return err
	}
	p.stats.Edges++
	return nil
}

func (p *projection) rolesOf(role string, list []string) []string {
	if len(list) > 0 {
		return list
	}
	return p.e.roles.Normalize(role)
}

func (p *projection) upsertPerson(ctx context.Context, id, name, birthDate string, payload any) (string, error) {
	props := graph.Props{"name": name}
	if birthDate != "" {
		props["birth_date"] = birthDate
	}
	return p.upsertEntity(ctx, identity.KindPerson, identity.Ref{
		ID:          id,
		Fingerprint: identity.PersonFingerprint(name, yearOf(birthDate)),
	}, props, payload)
}

func (p *projection) upsertCity(ctx context.Context, c *bundle.City) (string, error) {
	props := graph.Props{"name": c.Name}
	if c.Latitude != nil {
		props["latitude"] = *c.Latitude
	}
	if c.Longitude != nil {
		props["longitude"] = *c.Longitude
	}
	return p.upsertEntity(ctx, identity.KindCity, identity.Ref{
		ID:          c.ID,
		Fingerprint: identity.CityFingerprint(c.Name, c.Latitude, c.Longitude),
	}, props, c)
}

// --- step 1: groups and their release-level lineups ---

func (p *projection) projectGroups(ctx context.Context) error {
	for gi := range p.b.Groups {
		g := &p.b.Groups[gi]
		props := graph.Props{"name": g.Name}
		setIf(props, "alt_names", g.AltNames)
		setStr(props, "bio", g.Bio)
		setStr(props, "formed_date", g.FormedDate)
		setStr(props, "disbanded_date", g.DisbandedDate)

		gid, err := p.upsertEntity(ctx, identity.KindGroup, identity.Ref{
			ID:          g.ID,
			Fingerprint: identity.GroupFingerprint(g.Name),
		}, props, g)
		if err != nil {
			return fmt.Errorf("projector: group %q: %w", g.Name, err)
		}

		if g.OriginCity != nil && g.OriginCity.Name != "" {
			cid, err := p.upsertCity(ctx, g.OriginCity)
			if err != nil {
				return err
			}
			if err := p.plainEdge(ctx, "ORIGIN", graph.ByID("Group", gid), graph.ByID("City", cid), nil, nil); err != nil {
				return err
			}
		}

		var lineup []lineupMember
		for mi := range g.Members {
			m := &g.Members[mi]
			if m.Name == "" {
				p.warn(ctx, "group member without name skipped", "group", g.Name)
				continue
			}
			pid, err := p.upsertPerson(ctx, m.ID, m.Name, m.BirthDate, m)
			if err != nil {
				if errors.Is(err, identity.ErrUnresolvable) {
					p.warn(ctx, "group member unresolvable", "group", g.Name, "member", m.Name)
					continue
				}
				return err
			}
			memberRoles := p.rolesOf(m.Role, m.Roles)
			edgeProps := graph.Props{}
			setStr(edgeProps, "from_date", m.FromDate)
			setStr(edgeProps, "to_date", m.ToDate)
			setStr(edgeProps, "role", m.Role)
			setIf(edgeProps, "roles", memberRoles)
			setIf(edgeProps, "instruments", m.Instruments)
			if err := p.credEdge(ctx, "MEMBER_OF",
				graph.ByID("Person", pid), graph.ByID("Group", gid), nil, edgeProps); err != nil {
				return err
			}
			if m.OriginCity != nil && m.OriginCity.Name != "" {
				cid, err := p.upsertCity(ctx, m.OriginCity)
				if err != nil {
					return err
				}
				if err := p.plainEdge(ctx, "ORIGIN", graph.ByID("Person", pid), graph.ByID("City", cid), nil, nil); err != nil {
					return err
				}
			}
			lineup = append(lineup, lineupMember{
				id:          pid,
				name:        identity.NormalizeName(m.Name),
				role:        m.Role,
				roles:       memberRoles,
				instruments: m.Instruments,
			})
		}
		p.lineupByID[gid] = lineup
		p.lineupByName[identity.NormalizeName(g.Name)] = lineup
	}
	return nil
}

// --- step 2: the release, submitter, release-level guests ---

func (p *projection) projectRelease(ctx context.Context) error {
	r := &p.b.Release
	props := graph.Props{"name": r.Name}
	setStr(props, "release_date", r.ReleaseDate)
	setStr(props, "format", r.Format)
	setStr(props, "country", r.Country)
	setStr(props, "catalog_number", r.CatalogNumber)
	setStr(props, "album_art", r.AlbumArt)
	setStr(props, "notes", r.Notes)
	setIf(props, "listen_links", r.ListenLinks)

	rid, err := p.upsertEntity(ctx, identity.KindRelease, identity.Ref{
		ID:          r.ID,
		Fingerprint: identity.ReleaseFingerprint(r.Name, r.ReleaseDate, r.CatalogNumber),
	}, props, r)
	if err != nil {
		return fmt.Errorf("projector: release %q: %w", r.Name, err)
	}
	p.releaseID = rid

	if p.submitter != "" {
		aid, err := p.upsertEntity(ctx, identity.KindAccount, identity.Ref{
			Fingerprint: map[string]any{"handle": p.submitter},
		}, graph.Props{"handle": p.submitter}, map[string]any{"handle": p.submitter})
		if err != nil {
			return err
		}
		if err := p.plainEdge(ctx, "SUBMITTED",
			graph.ByID("Account", aid), graph.ByID("Release", rid), nil, graph.Props{
				"event_hash": p.eventHash,
				"timestamp":  p.at.UnixMilli(),
			}); err != nil {
			return err
		}
	}

	for gi := range r.Guests {
		if err := p.projectGuest(ctx, &r.Guests[gi], graph.ByID("Release", rid), "release"); err != nil {
			return err
		}
	}
	return nil
}

func (p *projection) projectGuest(ctx context.Context, g *bundle.Guest, target graph.NodeRef, scope string) error {
	if g.Name == "" {
		p.warn(ctx, "guest without name skipped", "scope", scope)
		return nil
	}
	pid, err := p.upsertPerson(ctx, g.ID, g.Name, "", g)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolvable) {
			p.warn(ctx, "guest unresolvable", "guest", g.Name)
			return nil
		}
		return err
	}
	props := graph.Props{"scope": scope}
	setStr(props, "role", g.Role)
	setIf(props, "roles", p.rolesOf(g.Role, g.Roles))
	setStr(props, "role_detail", g.RoleDetail)
	setIf(props, "instruments", g.Instruments)
	setStr(props, "credited_as", g.CreditedAs)
	return p.credEdge(ctx, "GUEST_ON", graph.ByID("Person", pid), target,
		graph.Props{"scope": scope}, props)
}

// --- step 3: songs and writers ---

func (p *projection) projectSongs(ctx context.Context) error {
	for si := range p.b.Songs {
		s := &p.b.Songs[si]
		primaryWriter := ""
		if len(s.Writers) > 0 {
			primaryWriter = s.Writers[0].Name
		}
		props := graph.Props{"title": s.Title}
		setIf(props, "alt_titles", s.AltTitles)
		setStr(props, "iswc", s.ISWC)
		setStr(props, "lyrics", s.Lyrics)
		if s.Year != 0 {
			props["year"] = s.Year
		}
		sid, err := p.upsertEntity(ctx, identity.KindSong, identity.Ref{
			ID:          s.ID,
			Fingerprint: identity.SongFingerprint(s.Title, primaryWriter),
		}, props, s)
		if err != nil {
			return fmt.Errorf("projector: song %q: %w", s.Title, err)
		}
		p.songByTitle[identity.NormalizeName(s.Title)] = sid
		for _, alt := range s.AltTitles {
			p.songByTitle[identity.NormalizeName(alt)] = sid
		}

		for wi := range s.Writers {
			w := &s.Writers[wi]
			if w.Name == "" {
				continue
			}
			pid, err := p.upsertPerson(ctx, w.ID, w.Name, "", w)
			if err != nil {
				if errors.Is(err, identity.ErrUnresolvable) {
					p.warn(ctx, "writer unresolvable", "song", s.Title, "writer", w.Name)
					continue
				}
				return err
			}
			ep := graph.Props{}
			setStr(ep, "role", w.Role)
			setIf(ep, "roles", p.rolesOf(w.Role, w.Roles))
			setStr(ep, "role_detail", w.RoleDetail)
			setStr(ep, "credited_as", w.CreditedAs)
			if w.SharePercentage != 0 {
				ep["share_percentage"] = w.SharePercentage
			}
			if err := p.credEdge(ctx, "WROTE",
				graph.ByID("Person", pid), graph.ByID("Song", sid), nil, ep); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- step 4: tracks, performers, credits ---

func (p *projection) projectTracks(ctx context.Context) error {
	for ti := range p.b.Tracks {
		if err := p.projectTrack(ctx, &p.b.Tracks[ti]); err != nil {
			return err
		}
	}
	return nil
}

func (p *projection) projectTrack(ctx context.Context, t *bundle.Track) error {
	props := graph.Props{"title": t.Title}
	if t.Duration != 0 {
		props["duration"] = t.Duration
	}
	setStr(props, "isrc", t.ISRC)
	setStr(props, "recording_date", t.RecordingDate)
	setStr(props, "location", t.Location)
	setIf(props, "listen_links", t.ListenLinks)

	tid, err := p.upsertEntity(ctx, identity.KindTrack, identity.Ref{
		ID:          t.ID,
		ISRC:        t.ISRC,
		Fingerprint: identity.TrackFingerprint(t.Title, p.releaseID, ""),
	}, props, t)
	if err != nil {
		return fmt.Errorf("projector: track %q: %w", t.Title, err)
	}
	trackRef := graph.ByID("Track", tid)

	// Guest identities exclude people from derived propagation. Both
	// the folded name and the resolved id are matched.
	guestNames := map[string]bool{}
	guestIDs := map[string]bool{}
	for gi := range t.Guests {
		g := &t.Guests[gi]
		if g.Name == "" {
			continue
		}
		guestNames[identity.NormalizeName(g.Name)] = true
		if g.ID != "" {
			guestIDs[g.ID] = true
		}
		res, err := p.e.resolver.Resolve(ctx, p.tx, identity.KindPerson, identity.Ref{
			ID:          g.ID,
			Fingerprint: identity.PersonFingerprint(g.Name, ""),
		})
		if err == nil {
			guestIDs[res.ID] = true
		}
	}
	isGuest := func(id, name string) bool {
		return guestIDs[id] || guestNames[identity.NormalizeName(name)]
	}

	performing := t.PerformedByGroups
	if len(performing) == 0 && len(p.b.Groups) > 0 {
		// Single-artist album assumption: credit the bundle's groups.
		p.warn(ctx, "track has no performers, falling back to bundle groups", "track", t.Title)
		for gi := range p.b.Groups {
			performing = append(performing, bundle.PerformingGroup{
				ID:   p.b.Groups[gi].ID,
				Name: p.b.Groups[gi].Name,
			})
		}
	}

	seenGroups := map[string]bool{}
	for pgi := range performing {
		pg := &performing[pgi]
		if pg.Name == "" && pg.ID == "" {
			continue
		}
		gid, err := p.upsertEntity(ctx, identity.KindGroup, identity.Ref{
			ID:          pg.ID,
			Fingerprint: identity.GroupFingerprint(pg.Name),
		}, graph.Props{"name": pg.Name}, pg)
		if err != nil {
			return fmt.Errorf("projector: performing group %q: %w", pg.Name, err)
		}
		if seenGroups[gid] {
			continue
		}
		seenGroups[gid] = true

		gp := graph.Props{}
		setStr(gp, "role", pg.Role)
		setStr(gp, "credited_as", pg.CreditedAs)
		if err := p.credEdge(ctx, "PERFORMED_ON",
			graph.ByID("Group", gid), trackRef, nil, gp); err != nil {
			return err
		}

		// Explicit member overrides beat derived lineup entries.
		explicit := map[string]bool{}
		for mi := range pg.Members {
			m := &pg.Members[mi]
			if m.Name == "" {
				continue
			}
			pid, err := p.upsertPerson(ctx, m.ID, m.Name, m.BirthDate, m)
			if err != nil {
				if errors.Is(err, identity.ErrUnresolvable) {
					p.warn(ctx, "explicit member unresolvable", "track", t.Title, "member", m.Name)
					continue
				}
				return err
			}
			explicit[pid] = true
			if isGuest(pid, m.Name) {
				continue
			}
			ep := graph.Props{
				"derived":       false,
				"lineup_source": "track_explicit",
				"via_group_id":  gid,
			}
			setStr(ep, "role", m.Role)
			setIf(ep, "roles", p.rolesOf(m.Role, m.Roles))
			setIf(ep, "instruments", m.Instruments)
			if err := p.credEdge(ctx, "PERFORMED_ON",
				graph.ByID("Person", pid), trackRef,
				graph.Props{"via_group_id": gid}, ep); err != nil {
				return err
			}
		}

		if pg.MembersAreComplete {
			continue
		}
		lineup, source := p.lineupByID[gid], "release_default"
		if lineup == nil {
			lineup, source = p.lineupByName[identity.NormalizeName(pg.Name)], "release_default_by_name"
		}
		for _, m := range lineup {
			if explicit[m.id] || isGuest(m.id, m.name) {
				continue
			}
			ep := graph.Props{
				"derived":       true,
				"lineup_source": source,
				"via_group_id":  gid,
			}
			setStr(ep, "role", m.role)
			setIf(ep, "roles", m.roles)
			setIf(ep, "instruments", m.instruments)
			if err := p.credEdge(ctx, "PERFORMED_ON",
				graph.ByID("Person", m.id), trackRef,
				graph.Props{"via_group_id": gid}, ep); err != nil {
				return err
			}
		}
	}

	for gi := range t.Guests {
		if err := p.projectGuest(ctx, &t.Guests[gi], trackRef, "track"); err != nil {
			return err
		}
	}
	for pi := range t.Producers {
		if err := p.singleRoleCredit(ctx, &t.Producers[pi], trackRef, "PRODUCED"); err != nil {
			return err
		}
	}
	for ai := range t.Arrangers {
		if err := p.singleRoleCredit(ctx, &t.Arrangers[ai], trackRef, "ARRANGED"); err != nil {
			return err
		}
	}

	if t.RecordingOf != "" {
		if err := p.linkSongRef(ctx, trackRef, t.RecordingOf, "RECORDING_OF"); err != nil {
			return err
		}
	}
	if t.CoverOf != "" {
		if err := p.linkSongRef(ctx, trackRef, t.CoverOf, "COVER_OF"); err != nil {
			return err
		}
	}

	for si := range t.Samples {
		s := &t.Samples[si]
		ref := identity.Ref{ID: s.TrackID}
		if s.TrackID == "" {
			if s.Title == "" {
				p.warn(ctx, "sample without id or title skipped", "track", t.Title)
				continue
			}
			ref.Fingerprint = identity.TrackFingerprint(s.Title, "", "")
		}
		sampleProps := graph.Props{}
		setStr(sampleProps, "title", s.Title)
		sid, err := p.upsertEntity(ctx, identity.KindTrack, ref, sampleProps, s)
		if err != nil {
			if errors.Is(err, identity.ErrUnresolvable) {
				p.warn(ctx, "sample target unresolvable", "track", t.Title)
				continue
			}
			return err
		}
		ep := graph.Props{}
		setStr(ep, "portion_used", s.PortionUsed)
		setStr(ep, "source", s.Source)
		if s.Cleared {
			ep["cleared"] = true
		}
		if err := p.plainEdge(ctx, "SAMPLES", trackRef, graph.ByID("Track", sid), nil, ep); err != nil {
			return err
		}
	}
	return nil
}

func (p *projection) singleRoleCredit(ctx context.Context, ref *bundle.PersonRef, target graph.NodeRef, relType string) error {
	if ref.Name == "" && ref.ID == "" {
		return nil
	}
	pid, err := p.upsertPerson(ctx, ref.ID, ref.Name, "", ref)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolvable) {
			p.warn(ctx, "credit unresolvable", "rel", relType, "name", ref.Name)
			return nil
		}
		return err
	}
	ep := graph.Props{}
	setStr(ep, "role", ref.Role)
	return p.credEdge(ctx, relType, graph.ByID("Person", pid), target, nil, ep)
}

// linkSongRef links a track to a song named either by id or by bare
// title. A title matching a song declared in this bundle reuses its id;
// otherwise a provisional song is minted.
func (p *projection) linkSongRef(ctx context.Context, track graph.NodeRef, songRef, relType string) error {
	ref := identity.Ref{}
	props := graph.Props{}
	if identity.ParseID(songRef).Valid() {
		ref.ID = songRef
	} else if sid, ok := p.songByTitle[identity.NormalizeName(songRef)]; ok {
		return p.plainEdge(ctx, relType, track, graph.ByID("Song", sid), nil, nil)
	} else {
		ref.Fingerprint = identity.SongFingerprint(songRef, "")
		props["title"] = songRef
	}
	sid, err := p.upsertEntity(ctx, identity.KindSong, ref, props, map[string]any{"ref": songRef})
	if err != nil {
		if errors.Is(err, identity.ErrUnresolvable) {
			p.warn(ctx, "song reference unresolvable", "rel", relType, "ref", songRef)
			return nil
		}
		return err
	}
	return p.plainEdge(ctx, relType, track, graph.ByID("Song", sid), nil, nil)
}

// --- step 5: tracklist placement ---

func (p *projection) projectTracklist(ctx context.Context) error {
	for i := range p.b.Tracklist {
		item := &p.b.Tracklist[i]
		pl := ParsePosition(item.Position, i)
		// Explicit fields from the input win over the parsed grammar.
		if item.DiscNumber != 0 {
			pl.Disc = item.DiscNumber
		}
		if item.TrackNumber != 0 {
			pl.Number = item.TrackNumber
		}
		if item.Side != "" {
			pl.Side = item.Side
		}
		ep := graph.Props{
			"position":     item.Position,
			"disc_number":  pl.Disc,
			"track_number": pl.Number,
		}
		setStr(ep, "side", pl.Side)
		if item.IsBonus {
			ep["is_bonus"] = true
		}
		if err := p.plainEdge(ctx, "IN_RELEASE",
			graph.ByID("Track", item.TrackID), graph.ByID("Release", p.releaseID),
			graph.Props{"position": item.Position}, ep); err != nil {
			return fmt.Errorf("projector: tracklist %q: %w", item.Position, err)
		}
	}
	return nil
}

// --- step 6: labels and master ---

func (p *projection) projectLabelsAndMaster(ctx context.Context) error {
	r := &p.b.Release
	if r.Master != "" {
		ref := identity.Ref{}
		props := graph.Props{}
		if identity.ParseID(r.Master).Valid() {
			ref.ID = r.Master
		} else {
			ref.Fingerprint = map[string]any{"name": identity.NormalizeName(r.Master)}
			props["name"] = r.Master
		}
		mid, err := p.upsertEntity(ctx, identity.KindMaster, ref, props, map[string]any{"ref": r.Master})
		if err != nil {
			return err
		}
		if err := p.plainEdge(ctx, "IN_MASTER",
			graph.ByID("Release", p.releaseID), graph.ByID("Master", mid), nil, nil); err != nil {
			return err
		}
	}

	for li := range r.Labels {
		lid, err := p.upsertLabel(ctx, &r.Labels[li])
		if err != nil {
			return err
		}
		if err := p.plainEdge(ctx, "RELEASED",
			graph.ByID("Label", lid), graph.ByID("Release", p.releaseID), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *projection) upsertLabel(ctx context.Context, l *bundle.Label) (string, error) {
	props := graph.Props{"name": l.Name}
	setIf(props, "alt_names", l.AltNames)

	if l.ParentLabel != nil && l.ParentLabel.Name != "" {
		pid, err := p.upsertLabel(ctx, l.ParentLabel)
		if err != nil {
			return "", err
		}
		props["parent_label_id"] = pid
	}

	lid, err := p.upsertEntity(ctx, identity.KindLabel, identity.Ref{
		ID:          l.ID,
		Fingerprint: identity.LabelFingerprint(l.Name),
	}, props, l)
	if err != nil {
		return "", fmt.Errorf("projector: label %q: %w", l.Name, err)
	}

	if l.OriginCity != nil && l.OriginCity.Name != "" {
		cid, err := p.upsertCity(ctx, l.OriginCity)
		if err != nil {
			return "", err
		}
		if err := p.plainEdge(ctx, "ORIGIN",
			graph.ByID("Label", lid), graph.ByID("City", cid), nil, nil); err != nil {
			return "", err
		}
	}
	return lid, nil
}

// --- step 7: sources ---

func (p *projection) projectSources(ctx context.Context) error {
	for si := range p.b.Sources {
		s := &p.b.Sources[si]
		if s.URL == "" {
			continue
		}
		props := graph.Props{"url": s.URL}
		setStr(props, "type", s.Type)
		setStr(props, "accessed_at", s.AccessedAt)
		sid, err := p.upsertEntity(ctx, identity.KindSource, identity.Ref{
			ID:          s.ID,
			Fingerprint: identity.SourceFingerprint(s.URL),
		}, props, s)
		if err != nil {
			return err
		}
		if err := p.plainEdge(ctx, "SOURCED_FROM",
			graph.ByID("Release", p.releaseID), graph.ByID("Source", sid), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *projection) warn(ctx context.Context, msg string, args ...any) {
	p.stats.Warnings++
	p.e.log.WarnContext(ctx, msg, append(args, "event_hash", p.eventHash)...)
}

func setStr(props graph.Props, key, val string) {
	if val != "" {
		props[key] = val
	}
}

func setIf(props graph.Props, key string, val []string) {
	if len(val) > 0 {
		props[key] = val
	}
}

func yearOf(date string) string {
	if len(date) >= 4 {
		y := date[:4]
		for _, c := range y {
			if c < '0' || c > '9' {
				return ""
			}
		}
		return y
	}
	return ""
}
