package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashServiceToken hashes a presented service token for lookup. Raw tokens
// are never stored.
func HashServiceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
