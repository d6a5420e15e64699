package authapi

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BASTION_AUTH_TRUST_PROXY", "")
	t.Setenv("BASTION_AUTH_MAX_BODY_BYTES", "")
	t.Setenv("BASTION_INTERNAL_API_KEY", "")

	cfg := LoadConfigFromEnv()
	if cfg.TrustProxy {
		t.Fatalf("TrustProxy must default to false")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
	if cfg.InternalAPIKey != "" {
		t.Fatalf("InternalAPIKey = %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfigOverridesAndBadValues(t *testing.T) {
	t.Setenv("BASTION_AUTH_TRUST_PROXY", "true")
	t.Setenv("BASTION_AUTH_MAX_BODY_BYTES", "4096")
	t.Setenv("BASTION_INTERNAL_API_KEY", "  key-with-spaces  ")

	cfg := LoadConfigFromEnv()
	if !cfg.TrustProxy || cfg.MaxBodyBytes != 4096 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.InternalAPIKey != "key-with-spaces" {
		t.Fatalf("InternalAPIKey = %q", cfg.InternalAPIKey)
	}

	// Garbage and non-positive sizes fall back to defaults.
	t.Setenv("BASTION_AUTH_TRUST_PROXY", "maybe")
	t.Setenv("BASTION_AUTH_MAX_BODY_BYTES", "-1")
	cfg = LoadConfigFromEnv()
	if cfg.TrustProxy || cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("fallback cfg = %+v", cfg)
	}
}
