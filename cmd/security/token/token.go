package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "BASTION_TOKEN_HMAC_KEY"

	// SecretBytes is the default entropy size for opaque refresh secrets (256 bits).
	SecretBytes = 32
)

// NewOpaqueSecret returns a cryptographically random bearer secret.
// It is URL-safe (base64url) and SHOULD be stored only on the client.
// The server stores only a hash (see HashSecretHex).
func NewOpaqueSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = SecretBytes
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return raw != ""
}

// HashSecretHex hashes refresh secrets for server-side storage.
// Behavior:
// - If BASTION_TOKEN_HMAC_KEY is set (non-empty), uses HMAC-SHA256(secret, key).
// - Otherwise falls back to SHA-256(secret) for dev/back-compat.
func HashSecretHex(secret string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, []byte(key))
}

// HashSecretHexRequireHMAC hashes refresh secrets in enforced-HMAC mode.
// It fails if the key is missing or too short.
func HashSecretHexRequireHMAC(secret string, minBytes int) (string, error) {
	key, err := HMACKeyFromEnv(minBytes)
	if err != nil {
		return "", err
	}
	return HashHMACSHA256Hex(secret, key), nil
}

// HashIPHex hashes a client IP for privacy-preserving session context.
// The digest is keyed with the same HMAC key (when set) so values are stable
// across the deployment but not reversible without the key.
// Raw IPs are never persisted.
func HashIPHex(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex("ip:" + ip)
	}
	return HashHMACSHA256Hex("ip:"+ip, []byte(key))
}

// HashPrefix returns the first n hex chars of hash for audit logging.
// Security events must never carry a full credential hash.
func HashPrefix(hash string, n int) string {
	if n <= 0 {
		n = 8
	}
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}
