package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashOpaqueToken returns the hex SHA-256 of an opaque token (account verification
// token). Only the hash is stored.
func HashOpaqueToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// OpaqueTokenMatches compares token against a stored hash in constant time.
// An empty token or hash never matches.
func OpaqueTokenMatches(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashOpaqueToken(token)), []byte(storedHash)) == 1
}
