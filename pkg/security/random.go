package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomSecret returns n random bytes encoded as unpadded base64url text
func RandomSecret(n int) ([]byte, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random secret: %w", err)
	}
	out := make([]byte, base64.RawURLEncoding.EncodedLen(n))
	base64.RawURLEncoding.Encode(out, raw)
	Wipe(raw)
	return out, nil
}
