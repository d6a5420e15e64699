package family

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the refresh-credential core.
//
// It controls credential TTL, per-user family caps, secret entropy, and the
// rotation rate budget. The struct is intentionally explicit and
// environment-driven so that production deployments can tune security
// parameters without code changes.
type Config struct {
	// CredentialTTL is the validity window fixed at issuance.
	// Rotation does not extend it for the old row; each successor gets a
	// fresh window.
	CredentialTTL time.Duration

	// MaxFamiliesPerUser caps families with at least one active credential.
	MaxFamiliesPerUser int

	// SecretBytes is the entropy size for opaque refresh secrets.
	SecretBytes int

	// RotationRateMax and RotationRateWindow define the fixed-window budget
	// for rotation attempts per family.
	RotationRateMax    int
	RotationRateWindow time.Duration
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		CredentialTTL:      7 * 24 * time.Hour,
		MaxFamiliesPerUser: 10,
		SecretBytes:        32,
		RotationRateMax:    5,
		RotationRateWindow: 60 * time.Second,
	}
}

// LoadConfigFromEnv loads core configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - BASTION_AUTH_CREDENTIAL_TTL
//   - BASTION_AUTH_MAX_FAMILIES_PER_USER
//   - BASTION_AUTH_SECRET_BYTES
//   - BASTION_AUTH_ROTATION_RATE_MAX
//   - BASTION_AUTH_ROTATION_RATE_WINDOW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BASTION_AUTH_CREDENTIAL_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CredentialTTL = d
	}

	if v := os.Getenv("BASTION_AUTH_MAX_FAMILIES_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.MaxFamiliesPerUser = n
	}

	if v := os.Getenv("BASTION_AUTH_SECRET_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.SecretBytes = n
	}

	if v := os.Getenv("BASTION_AUTH_ROTATION_RATE_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, ErrConfig
		}
		cfg.RotationRateMax = n
	}

	if v := os.Getenv("BASTION_AUTH_ROTATION_RATE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RotationRateWindow = d
	}

	return cfg, nil
}
