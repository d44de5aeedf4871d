package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for operator passwords.
const PasswordCost = 10

// maxPasswordBytes is bcrypt's input limit; longer passwords are refused, not truncated.
const maxPasswordBytes = 72

// HashPassword returns the bcrypt hash stored in the users table.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", fmt.Errorf("%w: password is empty", ErrValidation)
	case len(password) > maxPasswordBytes:
		return "", fmt.Errorf("%w: password longer than %d bytes", ErrValidation, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches hash. A missing or corrupt
// hash never matches.
func ComparePassword(hash, password string) bool {
	if hash == "" || len(password) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
