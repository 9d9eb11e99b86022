package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is tuned for roughly 100ms per hash on commodity hardware.
const bcryptCost = 12

// HashPassword returns a bcrypt digest of the plaintext password. A hashing
// failure is fatal to the enclosing operation.
func HashPassword(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// VerifyPassword reports whether plaintext matches the stored digest.
// A malformed digest is treated as a mismatch, never an error.
func VerifyPassword(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
