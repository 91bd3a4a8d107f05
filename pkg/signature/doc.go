// Package signature implements the webhook secret and payload-signing
// primitives.
//
// Endpoint secrets are generated as "whsec_" plus 32 random bytes in URL-safe
// base64 and are returned to the caller exactly once; storage keeps only the
// hex SHA-256 hash. Outgoing payloads are signed with HMAC-SHA256 keyed by
// that stored hash, and verification uses constant-time comparison.
package signature
