package family

import (
	"strings"
	"time"
)

// Revocation reasons recorded on bastion.refresh_credentials rows.
// A reason is set exactly once, together with revoked_at.
const (
	ReasonRotated       = "ROTATED"
	ReasonUserLogout    = "USER_LOGOUT"
	ReasonUserLogoutAll = "USER_LOGOUT_ALL"
	ReasonExpired       = "EXPIRED"
	ReasonPasswordReset = "PASSWORD_RESET"
	ReasonAdmin         = "ADMIN"

	// ReasonReusePrefix prefixes reasons produced by reuse handling;
	// the suffix carries the detection context (e.g. REUSE_DETECTED_ROTATION).
	ReasonReusePrefix = "REUSE_DETECTED_"
)

// Validation reason codes returned to callers of ValidateAndRotate.
// These are internal distinctions; the HTTP layer maps them to coarse
// user-visible outcomes.
const (
	ReasonCodeReuseDetected = "TOKEN_REUSE_DETECTED"
	ReasonCodeRevoked       = "TOKEN_REVOKED"
	ReasonCodeExpired       = "TOKEN_EXPIRED"
)

// ReuseReason builds the revocation reason for a reuse incident.
func ReuseReason(context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		context = "UNKNOWN"
	}
	return ReasonReusePrefix + strings.ToUpper(context)
}

// IsReuseReason reports whether reason was produced by reuse handling.
func IsReuseReason(reason string) bool {
	return strings.HasPrefix(reason, ReasonReusePrefix)
}

// Credential mirrors one bastion.refresh_credentials row.
//
// CredentialHash is a one-way hash of the raw bearer secret; the raw value is
// never stored or logged. JTI is a separate unique identifier used for
// access-token claim correlation. RevokedAt is write-once: rows never return
// to the active state and are never mutated after revocation.
type Credential struct {
	ID               string
	UserID           string
	FamilyID         string
	CredentialHash   string
	JTI              string
	DeviceInfo       *string
	UserAgent        *string
	IPHash           *string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevocationReason *string
	ReplacedBy       *string
}

// Active reports whether the credential has not been revoked.
// Expiry is a separate, purely temporal check (see IsExpired).
func (c Credential) Active() bool { return c.RevokedAt == nil }

// DeviceContext is the best-effort session context captured at issuance and
// rotation. The raw IP is hashed before it reaches the store.
type DeviceContext struct {
	DeviceInfo string
	UserAgent  string
	IP         string
}

// FamilyInfo is one entry of the per-user session directory: a family with at
// least one active credential, carrying the most recently observed metadata.
type FamilyInfo struct {
	FamilyID   string
	UserID     string
	DeviceInfo *string
	UserAgent  *string
	IPHash     *string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// IdentityClaims are the inputs the access-token collaborator needs.
// The core supplies them; it never parses or verifies the minted token.
type IdentityClaims struct {
	UserID string
	Role   string
	Email  string
}

// FamilyGrant is the result of creating a new family: the raw bearer secret
// for the client and the stored credential row (hash only).
type FamilyGrant struct {
	FamilyID   string
	Secret     string
	Credential Credential
}

// RotationOutcome is the result of a successful rotation.
type RotationOutcome struct {
	Old    Credential
	New    Credential
	Secret string
}

// ValidationResult is the typed outcome of ValidateAndRotate.
//
// IsValid=false with a ReasonCode is an expected lifecycle/security outcome,
// not a fault; structural faults are returned as errors instead.
type ValidationResult struct {
	IsValid    bool
	ReasonCode string
	Claims     IdentityClaims
	Rotation   *RotationOutcome
}
