package auth

import (
	"context"
	"errors"
)

// CredentialKind classifies a failed login.
type CredentialKind int

const (
	MissingInput CredentialKind = iota + 1
	BadCredentials
	AccountDisabled
)

// CredentialError is returned by Verifier.Verify for every rejected login.
// Reason is the precise cause kept for the audit trail; PublicMessage is what the caller sees.
type CredentialError struct {
	Kind   CredentialKind
	Reason string
}

func (e *CredentialError) Error() string { return "credentials rejected: " + e.Reason }

func (e *CredentialError) Unwrap() error {
	if e.Kind == MissingInput {
		return ErrValidation
	}
	return ErrUnauthenticated
}

// PublicMessage returns the caller-visible message. Unknown email and wrong
// password share one message.
func (e *CredentialError) PublicMessage() string {
	switch e.Kind {
	case MissingInput:
		return "Email and password are required"
	case AccountDisabled:
		return "Account is deactivated"
	default:
		return "Invalid credentials"
	}
}

// Audit reasons recorded for rejected logins.
const (
	ReasonMissingCredentials = "Missing credentials"
	ReasonUserNotFound       = "User not found"
	ReasonAccountDeactivated = "Account deactivated"
	ReasonInvalidPassword    = "Invalid password"
)

type userFinder interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Verifier checks submitted email/password pairs against stored accounts.
type Verifier struct {
	users   userFinder
	compare func(hash, password string) bool
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithPasswordComparator replaces the bcrypt comparison.
func WithPasswordComparator(fn func(hash, password string) bool) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.compare = fn
		}
	}
}

// NewVerifier constructs a Verifier backed by users.
func NewVerifier(users userFinder, opts ...VerifierOption) *Verifier {
	v := &Verifier{users: users, compare: ComparePassword}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the matching active user. Rejections are *CredentialError;
// any other error comes from storage. When the account exists but is rejected,
// the user is returned alongside the error so the attempt can be attributed.
func (v *Verifier) Verify(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, &CredentialError{Kind: MissingInput, Reason: ReasonMissingCredentials}
	}

	user, err := v.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, &CredentialError{Kind: BadCredentials, Reason: ReasonUserNotFound}
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return user, &CredentialError{Kind: AccountDisabled, Reason: ReasonAccountDeactivated}
	}
	if !v.compare(user.PasswordHash, password) {
		return user, &CredentialError{Kind: BadCredentials, Reason: ReasonInvalidPassword}
	}
	return user, nil
}
