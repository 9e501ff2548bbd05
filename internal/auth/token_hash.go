package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 digest of a refresh token. Only the
// digest is persisted, so a leaked users table does not leak usable tokens.
// An empty token hashes to "" so that "no stored token" never matches.
func HashToken(token string) string {
	if token == "" {
		return ""
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// TokenMatches reports whether token hashes to storedDigest, in constant time.
func TokenMatches(storedDigest, token string) bool {
	if storedDigest == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedDigest), []byte(HashToken(token))) == 1
}
