package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// CallerTokenPrefix marks caller bearer tokens so they are recognizable in
// logs and secret scanners
const CallerTokenPrefix = "crt_"

const callerTokenBytes = 32

// GenerateCallerToken returns a new bearer token for a caller account. Only
// its hash is stored; the token itself is shown once at account creation.
func GenerateCallerToken() (string, error) {
	raw := make([]byte, callerTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate caller token: %w", err)
	}
	return CallerTokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken derives the value stored in callers.token_hash
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

// VerifyToken reports whether a presented bearer token matches the stored
// hash of a caller account
func VerifyToken(token, storedHash string) bool {
	if storedHash == "" || !strings.HasPrefix(token, CallerTokenPrefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(storedHash)) == 1
}
