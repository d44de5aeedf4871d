package auth

import "errors"

var (
	ErrValidation      = errors.New("auth: validation failed")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: already exists")
)
