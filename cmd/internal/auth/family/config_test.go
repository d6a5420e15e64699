package family

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("BASTION_AUTH_CREDENTIAL_TTL", "")
	t.Setenv("BASTION_AUTH_MAX_FAMILIES_PER_USER", "")
	t.Setenv("BASTION_AUTH_SECRET_BYTES", "")
	t.Setenv("BASTION_AUTH_ROTATION_RATE_MAX", "")
	t.Setenv("BASTION_AUTH_ROTATION_RATE_WINDOW", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("BASTION_AUTH_CREDENTIAL_TTL", "48h")
	t.Setenv("BASTION_AUTH_MAX_FAMILIES_PER_USER", "5")
	t.Setenv("BASTION_AUTH_SECRET_BYTES", "48")
	t.Setenv("BASTION_AUTH_ROTATION_RATE_MAX", "10")
	t.Setenv("BASTION_AUTH_ROTATION_RATE_WINDOW", "30s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.CredentialTTL != 48*time.Hour {
		t.Fatalf("ttl = %v", cfg.CredentialTTL)
	}
	if cfg.MaxFamiliesPerUser != 5 {
		t.Fatalf("max families = %d", cfg.MaxFamiliesPerUser)
	}
	if cfg.SecretBytes != 48 {
		t.Fatalf("secret bytes = %d", cfg.SecretBytes)
	}
	if cfg.RotationRateMax != 10 || cfg.RotationRateWindow != 30*time.Second {
		t.Fatalf("rate = %d/%v", cfg.RotationRateMax, cfg.RotationRateWindow)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	cases := []struct {
		key, val string
	}{
		{"BASTION_AUTH_CREDENTIAL_TTL", "not-a-duration"},
		{"BASTION_AUTH_CREDENTIAL_TTL", "-1h"},
		{"BASTION_AUTH_MAX_FAMILIES_PER_USER", "0"},
		{"BASTION_AUTH_MAX_FAMILIES_PER_USER", "101"},
		{"BASTION_AUTH_SECRET_BYTES", "16"},
		{"BASTION_AUTH_SECRET_BYTES", "128"},
		{"BASTION_AUTH_ROTATION_RATE_MAX", "0"},
		{"BASTION_AUTH_ROTATION_RATE_WINDOW", "0s"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
