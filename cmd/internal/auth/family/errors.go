package family

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound is returned when a presented secret does not match
	// any stored credential. Absence is not treated as reuse.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialNotActive is returned when a conditional rotation write
	// affected zero rows: the credential was revoked between read and write,
	// typically because a concurrent rotation won the race.
	ErrCredentialNotActive = errors.New("credential not active")

	// ErrCredentialExpired is returned by Rotate when the presented credential
	// is past its deadline. Expiry is a benign lifecycle outcome and never
	// triggers revocation of siblings.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrRotationFailed wraps unexpected storage/transaction failures during
	// rotation. It is never retried internally to avoid double-issuing.
	ErrRotationFailed = errors.New("rotation failed")

	// ErrFamilyLimit is returned when a user already holds the maximum number
	// of families with an active credential.
	ErrFamilyLimit = errors.New("family limit exceeded")

	// ErrFamilyCompromised is reported after reuse handling completes: the
	// whole family, not just one credential, is now invalid.
	ErrFamilyCompromised = errors.New("family compromised")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// FamilyLimitError carries the policy numbers for the client error surface.
type FamilyLimitError struct {
	UserID  string
	Current int
	Max     int
}

func (e FamilyLimitError) Error() string {
	return fmt.Sprintf("%v: user %s has %d of %d families", ErrFamilyLimit, e.UserID, e.Current, e.Max)
}

func (e FamilyLimitError) Unwrap() error { return ErrFamilyLimit }
