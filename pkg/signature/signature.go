package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretPrefix identifies endpoint secrets so they are recognizable in
// configuration and logs without revealing their origin.
const SecretPrefix = "whsec_"

// HeaderPrefix is prepended to the hex signature in the X-Webhook-Signature
// header, following the scheme used by GitHub and Stripe.
const HeaderPrefix = "sha256="

// GenerateSecret returns a new endpoint secret: "whsec_" followed by 32
// random bytes in URL-safe base64. The secret is shown to the endpoint owner
// exactly once; only its hash is stored.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret derives the storage form of a secret: hex-encoded SHA-256.
// The hash cannot be reversed to the original secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Sign computes the payload signature: hex HMAC-SHA256 keyed by the stored
// secret hash. The key is deliberately the hash rather than the original
// secret; integrators reconstruct signatures as
// HMAC-SHA256(SHA-256(secret), payload) and the published contract cannot
// change without breaking them.
func Sign(secretHash string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secretHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureHeader returns the full X-Webhook-Signature header value for a
// payload, including the "sha256=" prefix.
func SignatureHeader(secretHash string, payload []byte) string {
	return HeaderPrefix + Sign(secretHash, payload)
}

// Verify recomputes the signature for the payload and compares it to the
// provided value in constant time. A "sha256=" prefix on the provided value
// is accepted and stripped.
func Verify(secretHash string, payload []byte, provided string) bool {
	provided = strings.TrimPrefix(provided, HeaderPrefix)
	expected := Sign(secretHash, payload)
	return hmac.Equal([]byte(expected), []byte(provided))
}
