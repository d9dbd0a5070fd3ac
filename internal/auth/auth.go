package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// KeyValidator checks inbound channel keys against a set of SHA-256 hashes.
type KeyValidator struct {
	hashes [][]byte
}

// NewKeyValidator creates a validator from hex-encoded SHA-256 key hashes.
func NewKeyValidator(keyHashes []string) *KeyValidator {
	v := &KeyValidator{}
	for _, h := range keyHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			v.hashes = append(v.hashes, []byte(h))
		}
	}
	return v
}

// Enabled reports whether any key is configured.
func (v *KeyValidator) Enabled() bool {
	return v != nil && len(v.hashes) > 0
}

// ValidateAPIKey reports whether apiKey matches a configured hash.
func (v *KeyValidator) ValidateAPIKey(apiKey string) error {
	keyHash := []byte(HashAPIKey(apiKey))

	match := 0
	// Compare against every hash so timing does not reveal the position.
	for _, h := range v.hashes {
		match |= subtle.ConstantTimeCompare(keyHash, h)
	}
	if match != 1 {
		return fmt.Errorf("invalid API key")
	}
	return nil
}

// ExtractAPIKey extracts the key from a "Bearer <key>" Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
