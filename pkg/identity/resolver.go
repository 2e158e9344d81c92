package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/waxworks/discograph/pkg/graph"
)

// Ref is an entity reference as it arrives in a bundle: possibly an id
// string (canonical, provisional, or external), possibly only the
// fields a fingerprint can be built from.
type Ref struct {
	ID          string
	ISRC        string // track-only fast path
	Fingerprint map[string]any
}

// Resolution is the outcome of applying the id-resolution policy.
type Resolution struct {
	ID       string
	IDKind   Class     // canonical | provisional | external
	External *ParsedID // external reference to remember on the node, if any
}

// ErrUnresolvable is returned when a reference carries neither a usable
// id nor fingerprint material.
var ErrUnresolvable = errors.New("identity: reference cannot be resolved or minted")

// Resolver applies the entity-id resolution policy inside a graph
// transaction:
//
//  1. canonical id on the input → use it;
//  2. external id → IdentityMap lookup; hit → canonical, miss → step 3
//     remembering the external reference;
//  3. mint a provisional id from the fingerprint.
type Resolver struct{}

// Resolve resolves ref to a stable id for kind.
func (Resolver) Resolve(ctx context.Context, tx graph.Tx, kind Kind, ref Ref) (Resolution, error) {
	parsed := ParseID(ref.ID)
	switch parsed.Class {
	case ClassCanonical:
		return Resolution{ID: parsed.Raw, IDKind: ClassCanonical}, nil
	case ClassProvisional:
		return Resolution{ID: parsed.Raw, IDKind: ClassProvisional}, nil
	case ClassExternal:
		canonicalID, err := lookupMapping(ctx, tx, parsed)
		if err != nil {
			return Resolution{}, err
		}
		if canonicalID != "" {
			return Resolution{ID: canonicalID, IDKind: ClassCanonical}, nil
		}
		res, err := mint(kind, ref)
		if err != nil {
			return Resolution{}, err
		}
		res.External = &parsed
		return res, nil
	default:
		return mint(kind, ref)
	}
}

func mint(kind Kind, ref Ref) (Resolution, error) {
	if kind == KindTrack {
		if id := ISRCProvisionalID(ref.ISRC); id != "" {
			return Resolution{ID: id, IDKind: ClassProvisional}, nil
		}
	}
	if len(ref.Fingerprint) == 0 {
		return Resolution{}, fmt.Errorf("%w: kind=%s id=%q", ErrUnresolvable, kind, ref.ID)
	}
	id, err := MakeProvisionalID(kind, ref.Fingerprint)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{ID: id, IDKind: ClassProvisional}, nil
}

func lookupMapping(ctx context.Context, tx graph.Tx, parsed ParsedID) (string, error) {
	props, err := tx.GetNode(ctx, "IdentityMap", "key", parsed.MapKey())
	if errors.Is(err, graph.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: map lookup: %w", err)
	}
	id, _ := props["canonical_id"].(string)
	return id, nil
}

// RecordMapping writes the (source, kind, externalID) → canonicalID map
// entry if absent. Entries are created once and never rewritten.
func (Resolver) RecordMapping(ctx context.Context, tx graph.Tx, source string, kind Kind, externalID, canonicalID string) error {
	key := MapKey(source, kind, externalID)
	if _, err := tx.GetNode(ctx, "IdentityMap", "key", key); err == nil {
		return nil
	} else if !errors.Is(err, graph.ErrNotFound) {
		return err
	}
	_, err := tx.UpsertNode(ctx, "IdentityMap", "key", key, graph.Props{
		"source":       source,
		"kind":         string(kind),
		"external_id":  externalID,
		"canonical_id": canonicalID,
	})
	return err
}

// ResolveLive follows merged_into tombstone pointers from id to the
// live survivor. Chains are bounded; a longer chain indicates graph
// corruption and is surfaced as an error.
func (Resolver) ResolveLive(ctx context.Context, tx graph.Tx, kind Kind, id string) (string, error) {
	const maxHops = 32
	cur := id
	for hop := 0; hop < maxHops; hop++ {
		props, err := tx.GetNode(ctx, kind.Label(), "id", cur)
		if errors.Is(err, graph.ErrNotFound) {
			return cur, nil
		}
		if err != nil {
			return "", err
		}
		next, _ := props["merged_into"].(string)
		if next == "" || next == cur {
			return cur, nil
		}
		cur = next
	}
	return "", fmt.Errorf("identity: merged_into chain from %s exceeds %d hops", id, 32)
}
