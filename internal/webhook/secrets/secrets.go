// Package secrets generates webhook signing secrets. Secrets are opaque
// random strings with a recognizable prefix so they can be spotted in
// configuration without being guessable. They are stored as-is — HMAC
// signing needs the original bytes, so hashing at rest is not an option.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Prefix identifies Incentra webhook signing secrets.
const Prefix = "whsec_"

const secretBytes = 32

// Generate creates a cryptographically secure random signing secret.
func Generate() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Redact returns a display form safe for API responses and logs: the prefix
// and the first four characters of the body.
func Redact(secret string) string {
	const keep = len(Prefix) + 4
	if len(secret) <= keep {
		return "****"
	}
	return secret[:keep] + "****"
}
