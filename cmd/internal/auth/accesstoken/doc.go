// Package accesstoken issues and verifies short-lived access tokens.
//
// The refresh-credential core only supplies identity claims and forwards the
// minted token; it never parses it. Two interchangeable managers are
// provided: JWT HS256 (shared-secret deployments) and PASETO v4.public
// (Ed25519 keypair). The mode is selected by BASTION_ACCESS_TOKEN_MODE.
package accesstoken
