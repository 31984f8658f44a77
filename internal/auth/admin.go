package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AdminTokenValid compares a presented operator token against the configured
// one in constant time. An empty configured token never matches.
func AdminTokenValid(presented, expected string) bool {
	if expected == "" || presented == "" {
		return false
	}
	// Hash both sides so the comparison does not leak the token length.
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
