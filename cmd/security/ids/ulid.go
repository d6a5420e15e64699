// Package ids provides ID primitives (ULID, UUID) used by the auth core.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable and work well in distributed systems.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewJTI returns a new random token identifier (UUIDv4).
// JTIs correlate issued credentials with access-token claims and are
// distinct from both the row ID and the credential hash.
func NewJTI() string {
	return uuid.NewString()
}
