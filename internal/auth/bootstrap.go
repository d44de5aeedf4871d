package auth

import (
	"context"
	"errors"
	"fmt"
)

// EnsureAccount creates the account if no user has the email yet.
// It reports whether a row was inserted.
func EnsureAccount(ctx context.Context, users UserStore, email, password string, role Role) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return false, fmt.Errorf("%w: bootstrap email and password are required", ErrValidation)
	}
	if !role.Valid() {
		return false, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	_, err := users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	u := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := users.Create(ctx, u); err != nil {
		// another instance won the race
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
