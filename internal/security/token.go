package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const OpaqueTokenLen = 64

// NewOpaqueToken returns 64 hex characters: sha256 over 1 KiB of crypto/rand output.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 1024)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// NewID returns a short random id for correlation (state nonces, message ids).
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint is a short stable hash of s, safe to put in logs.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
