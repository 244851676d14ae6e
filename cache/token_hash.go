package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 of token, so raw secrets are never
// used as cache keys.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
