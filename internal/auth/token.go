package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 24 * time.Hour
	defaultIssuer   = "auditdesk"
)

// Claims is the signed payload carried by a bearer token.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenError describes why a token was rejected. Reason is safe to return to clients.
type TokenError struct {
	Code   string
	Reason string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "invalid token: " + e.Code + ": " + e.Err.Error()
	}
	return "invalid token: " + e.Code
}

func (e *TokenError) Unwrap() error { return ErrInvalidToken }

func tokenError(code, reason string, err error) error {
	return &TokenError{Code: code, Reason: reason, Err: err}
}

// Codec issues and verifies HS256 tokens under a single process-wide secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec) error

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl <= 0 {
			return errors.New("auth: token ttl must be positive")
		}
		c.ttl = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec constructs a Codec. The secret is required.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &Codec{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the user. It returns the token and its expiry.
func (c *Codec) Issue(userID int64, email string, role Role) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id must be positive", ErrValidation)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies signature, structure and expiry. Every failure is a *TokenError
// that matches ErrInvalidToken; a partial payload is never returned.
func (c *Codec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, tokenError("malformed", "Malformed token", nil)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, tokenError("expired", "Token expired", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, tokenError("signature", "Invalid token signature", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, tokenError("malformed", "Malformed token", err)
		default:
			return nil, tokenError("claims", "Invalid token", err)
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, tokenError("claims", "Invalid token", nil)
	}
	if err := validateClaims(claims); err != nil {
		return nil, tokenError("claims", "Invalid token", err)
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.UserID <= 0 {
		return errors.New("user id missing")
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return errors.New("subject does not match user id")
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return errors.New("timestamps missing")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	if !claims.Role.Valid() {
		return fmt.Errorf("unknown role %q", claims.Role)
	}
	return nil
}

// ExtractBearer parses an Authorization header value of the form "Bearer <token>".
// A missing or malformed header yields ok=false.
func ExtractBearer(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}
