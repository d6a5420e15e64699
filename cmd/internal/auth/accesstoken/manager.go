package accesstoken

import (
	"errors"
	"time"
)

var (
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid access token config")
)

// IssueInput is the identity envelope the core hands to the issuer.
// JTI and FamilyID correlate the access token with the refresh credential
// and session family that minted it.
type IssueInput struct {
	UserID   string
	Role     string
	Email    string
	JTI      string
	FamilyID string
}

// Claims is the verified identity envelope propagated to callers.
type Claims struct {
	UserID    string
	Role      string
	Email     string
	JTI       string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Manager issues and verifies short-lived access tokens.
type Manager interface {
	// Issue mints a signed token and returns it with its TTL in seconds.
	Issue(in IssueInput, now time.Time) (token string, expiresIn int64, err error)

	// Verify parses and validates a token at the given time.
	Verify(token string, now time.Time) (Claims, error)
}
