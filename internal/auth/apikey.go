package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// API-key secrets come in two wire formats, both carrying the ts_ prefix:
//
//	ts_<64 hex>          legacy; verification requires an O(N) scan over the
//	                     organization's active key hashes
//	ts_<uuid>_<64 hex>   id-bound; the record id embedded in the secret allows
//	                     a single row lookup followed by one bcrypt compare
//
// New keys are always issued in the id-bound format. The legacy format stays
// accepted for keys issued before the id-bound scheme existed.
const keyPrefix = "ts_"

var (
	legacyKeyRe  = regexp.MustCompile(`^ts_[a-f0-9]{64}$`)
	idBoundKeyRe = regexp.MustCompile(`^ts_[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}_[a-f0-9]{64}$`)
)

// GenerateSecret returns a new cryptographically random secret in the legacy
// ts_<64 hex> format.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(raw), nil
}

// GenerateBoundSecret returns a new secret with the record id threaded into
// it, enabling O(1) verification.
func GenerateBoundSecret(keyID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + keyID + "_" + hex.EncodeToString(raw), nil
}

// HashSecret returns a bcrypt digest of the secret for at-rest storage.
func HashSecret(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(digest), nil
}

// VerifySecret reports whether secret matches the stored digest. A malformed
// digest is a mismatch, not an error.
func VerifySecret(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// ValidSecretFormat is the cheap structural pre-filter applied before any
// store lookup. It accepts both wire formats.
func ValidSecretFormat(candidate string) bool {
	return legacyKeyRe.MatchString(candidate) || idBoundKeyRe.MatchString(candidate)
}

// BoundKeyID extracts the record id from an id-bound secret. ok is false for
// legacy-format secrets.
func BoundKeyID(secret string) (id string, ok bool) {
	if !idBoundKeyRe.MatchString(secret) {
		return "", false
	}
	inner := strings.TrimPrefix(secret, keyPrefix)
	id = inner[:strings.LastIndex(inner, "_")]
	return id, true
}

// MaskSecret renders a secret for display: the first 8 characters followed
// by asterisks, preserving the original length. Never use the result for
// comparison.
func MaskSecret(secret string) string {
	if len(secret) < 8 {
		return "********"
	}
	return secret[:8] + strings.Repeat("*", len(secret)-8)
}
