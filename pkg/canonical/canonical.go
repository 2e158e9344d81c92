// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content hashing.
//
// Every deterministic identifier in the system flows through here:
// entity fingerprints, anchored-event hashes, and the per-operation
// hashes the projector mints for claims. Same value in, same hash out,
// on every node and every replay.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshaled with encoding/json so struct tags are honored,
// then transformed: keys sorted by UTF-16 code units, no HTML escaping,
// ES6 number formatting.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical JSON
// encoding of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 digest of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// OpHash derives the deterministic identifier for the opIndex-th
// sub-operation of an event. Claim ids and other nested identifiers are
// minted this way so replaying an event reproduces them exactly.
func OpHash(eventHash string, opIndex int) string {
	return HashString(eventHash + ":" + strconv.Itoa(opIndex))
}

// Short16 truncates a hex digest to its first 16 characters, the width
// used by provisional identifiers.
func Short16(digest string) string {
	if len(digest) <= 16 {
		return digest
	}
	return digest[:16]
}
