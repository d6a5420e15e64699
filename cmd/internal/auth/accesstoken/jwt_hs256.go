package accesstoken

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtHS256Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

type jwtAccessClaims struct {
	Role     string `json:"role,omitempty"`
	Email    string `json:"email,omitempty"`
	FamilyID string `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTHS256Manager builds a Manager signing HS256 JWTs with a shared secret.
//
// The secret must be at least 32 bytes; shorter keys make brute force of the
// HMAC feasible and are rejected at construction.
func NewJWTHS256Manager(cfg Config) (Manager, error) {
	secret := strings.TrimSpace(cfg.JWTHS256Secret)
	if len(secret) < 32 {
		return nil, ErrConfig
	}

	return &jwtHS256Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(secret),
	}, nil
}

func (m *jwtHS256Manager) Issue(in IssueInput, now time.Time) (string, int64, error) {
	if in.UserID == "" {
		return "", 0, ErrConfig
	}

	exp := now.Add(m.ttl)
	claims := jwtAccessClaims{
		Role:     in.Role,
		Email:    in.Email,
		FamilyID: in.FamilyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   in.UserID,
			ID:        in.JTI,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.ttl.Seconds()), nil
}

func (m *jwtHS256Manager) Verify(token string, now time.Time) (Claims, error) {
	// Clock-skew tolerance: validate slightly in the future so "nbf" does not
	// fail when clocks differ; this also tightens expiry checks slightly.
	validNow := now.Add(m.clockSkew)

	var parsed jwtAccessClaims
	_, err := jwt.ParseWithClaims(token, &parsed,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return validNow }),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if parsed.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID:   parsed.Subject,
		Role:     parsed.Role,
		Email:    parsed.Email,
		JTI:      parsed.ID,
		FamilyID: parsed.FamilyID,
		Issuer:   parsed.Issuer,
	}
	if parsed.IssuedAt != nil {
		out.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		out.ExpiresAt = parsed.ExpiresAt.Time
	}
	return out, nil
}
