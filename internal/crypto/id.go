package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// NewSessionID returns a 128-bit random identifier for sessions. Session ids
// are bearer-adjacent (they appear in refresh token claims) so they must be
// unguessable, not just unique.
func NewSessionID() (string, error) {
	return randomToken(16)
}

// NewStateToken returns a one-shot nonce for the OAuth state parameter.
func NewStateToken() (string, error) {
	return randomToken(32)
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
