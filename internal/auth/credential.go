package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// tokenBytes is the entropy of an access token (256 bits).
const tokenBytes = 32

// GenerateToken returns a URL-safe random bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenDigest is the storage and cache key of a bearer token. The raw token
// is never persisted.
func TokenDigest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
