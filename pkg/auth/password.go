package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashMAC returns the SHA-256 hex digest of a normalized MAC address, or ""
// when the input is blank. Raw MAC addresses are never stored.
func HashMAC(mac string) string {
	m := strings.ToLower(strings.TrimSpace(mac))
	if m == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(m))
	return hex.EncodeToString(sum[:])
}
