package auth

import "context"

// UserStore persists operator accounts.
// Lookups return ErrNotFound when no row matches; Create returns ErrConflict on a duplicate email.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	// List returns every user, newest first.
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (total, active int64, err error)
	// ToggleActive flips is_active in a single atomic step and returns the updated row.
	ToggleActive(ctx context.Context, id int64) (*User, error)
}
