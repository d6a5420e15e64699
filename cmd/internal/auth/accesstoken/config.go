package accesstoken

import (
	"os"
	"strings"
	"time"
)

// Token manager modes.
const (
	ModeJWT    = "jwt"
	ModePaseto = "paseto"
)

// Config defines runtime configuration for access-token issuance.
type Config struct {
	// Mode selects the manager implementation: "jwt" or "paseto".
	Mode string

	// Issuer is the value set in the "iss" claim.
	Issuer string

	// AccessTokenTTL defines the access-token lifetime.
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during verification.
	ClockSkew time.Duration

	// JWTHS256Secret is the HS256 shared secret (jwt mode; min 32 bytes).
	JWTHS256Secret string

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// (paseto mode).
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeJWT,
		Issuer:         "bastion",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads access-token configuration from environment variables.
//
// Required (per mode):
//   - BASTION_JWT_HS256_SECRET (jwt)
//   - BASTION_PASETO_V4_SECRET_KEY_HEX (paseto)
//
// Optional:
//   - BASTION_ACCESS_TOKEN_MODE ("jwt" default, or "paseto")
//   - BASTION_AUTH_ISSUER
//   - BASTION_ACCESS_TOKEN_TTL
//   - BASTION_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BASTION_ACCESS_TOKEN_MODE"))); v != "" {
		if v != ModeJWT && v != ModePaseto {
			return Config{}, ErrConfig
		}
		cfg.Mode = v
	}

	if v := os.Getenv("BASTION_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("BASTION_ACCESS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("BASTION_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.JWTHS256Secret = os.Getenv("BASTION_JWT_HS256_SECRET")
	cfg.PasetoV4SecretKeyHex = os.Getenv("BASTION_PASETO_V4_SECRET_KEY_HEX")

	switch cfg.Mode {
	case ModeJWT:
		if strings.TrimSpace(cfg.JWTHS256Secret) == "" {
			return Config{}, ErrConfig
		}
	case ModePaseto:
		if strings.TrimSpace(cfg.PasetoV4SecretKeyHex) == "" {
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

// NewFromConfig builds the Manager selected by cfg.Mode.
func NewFromConfig(cfg Config) (Manager, error) {
	switch cfg.Mode {
	case ModePaseto:
		return NewPasetoV4PublicManager(cfg)
	case ModeJWT, "":
		return NewJWTHS256Manager(cfg)
	default:
		return nil, ErrConfig
	}
}
