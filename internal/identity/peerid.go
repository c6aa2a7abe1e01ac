// Package identity derives the stable, symmetric PeerId shared by two
// endpoints of a session from their static public keys.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// PeerId is the 16-byte identifier of a peer, derived from the unordered
// pair of the two endpoints' static public keys.
type PeerId [16]byte

// String renders the id the way the rest of the codebase displays peer
// identity: as a canonical UUID string.
func (id PeerId) String() string {
	return uuid.UUID(id).String()
}

// DeriveId computes the symmetric PeerId for a pair of static public keys.
// Both endpoints of a session compute the same id without exchanging
// anything beyond the keys themselves: each key is base64-encoded, the two
// encoded strings are sorted lexicographically, concatenated lower||higher,
// and hashed with SHA-256. The first 16 bytes of the digest are the id.
func DeriveId(a, b []byte) PeerId {
	encA := base64.StdEncoding.EncodeToString(a)
	encB := base64.StdEncoding.EncodeToString(b)

	lower, higher := encA, encB
	if strings.Compare(encA, encB) > 0 {
		lower, higher = encB, encA
	}

	h := sha256.Sum256([]byte(lower + higher))

	var id PeerId
	copy(id[:], h[:16])
	return id
}
