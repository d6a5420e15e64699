package family

import (
	"context"
	"time"
)

// Store abstracts persistence for refresh-credential state.
//
// Implementations must provide the atomicity contracts documented per method;
// Rotate and CreateFamily are the two writes where a lost race must be
// reported, never absorbed.
type Store interface {
	// GetByHash loads a credential row by its credential hash.
	// Returns ErrCredentialNotFound when no row matches.
	GetByHash(ctx context.Context, credentialHash string) (Credential, error)

	// CreateFamily inserts the first credential of a new family, enforcing
	// the per-user active-family cap atomically with the insert.
	// Returns FamilyLimitError when the cap is reached.
	CreateFamily(ctx context.Context, cred Credential, maxFamilies int) error

	// Rotate atomically revokes the active row matching oldHash
	// (reason ROTATED, replaced_by = next.CredentialHash) and inserts next.
	// The conditional predicate "revoked_at IS NULL" decides the race winner:
	// when the row exists but is no longer active, ErrCredentialNotActive is
	// returned and nothing is written. Returns the revoked predecessor.
	Rotate(ctx context.Context, now time.Time, oldHash string, next Credential) (Credential, error)

	// RevokeFamily revokes every active credential in the family (idempotent)
	// and returns the number of rows actually transitioned.
	RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error)

	// RevokeUser revokes every active credential across all of the user's
	// families (idempotent) and returns the transitioned count.
	RevokeUser(ctx context.Context, now time.Time, userID, reason string) (int, error)

	// ListActiveFamilies returns one entry per family with at least one
	// active, unexpired credential, carrying the most recent metadata,
	// ordered most-recently-used first.
	ListActiveFamilies(ctx context.Context, now time.Time, userID string) ([]FamilyInfo, error)

	// SweepExpired bulk-revokes active rows past their deadline
	// (reason EXPIRED). Safe to run repeatedly and concurrently.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
