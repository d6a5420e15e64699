// Package family implements Bastion's refresh-credential core.
//
// It provides a multi-device session-family model with opaque refresh
// credentials, single-use rotation, theft detection via reuse, family-wide
// and user-wide revocation, and a per-user directory of active families.
//
// Refresh credentials are opaque random secrets and are stored hashed in
// Postgres (HMAC-SHA256 when BASTION_TOKEN_HMAC_KEY is set; otherwise
// SHA-256 for dev/back-compat). Each rotation revokes the presented
// credential and inserts its successor in the same family inside one
// transaction; the conditional predicate on revoked_at decides which of two
// racing rotations wins, so a family chain can never fork.
//
// Transport (HTTP) integration is intentionally out of scope here.
package family
