package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken creates a SHA256 hash of a token string.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
