package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// InternalAPIKey gates the family-issue endpoint. Empty disables it:
	// this service never verifies primary credentials itself, so without
	// a trusted upstream there is nobody entitled to mint families.
	InternalAPIKey string
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:     envBool("BASTION_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("BASTION_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		InternalAPIKey: strings.TrimSpace(os.Getenv("BASTION_INTERNAL_API_KEY")),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
