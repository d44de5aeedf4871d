package auth

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, now *time.Time, opts ...CodecOption) *Codec {
	t.Helper()
	opts = append([]CodecOption{WithClock(func() time.Time { return *now })}, opts...)
	c, err := NewCodec("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodecIssueAndDecode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, &now)

	token, expiresAt, err := c.Issue(7, "admin@example.com", RoleSuperAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	claims, err := c.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.UserID != 7 || claims.Subject != "7" {
		t.Fatalf("unexpected subject: %d / %s", claims.UserID, claims.Subject)
	}
	if claims.Email != "admin@example.com" || claims.Role != RoleSuperAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected token id")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		t.Fatal("expiry must follow issued-at")
	}
}

func TestCodecCustomTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, &now, WithTTL(time.Hour))
	_, expiresAt, err := c.Issue(1, "a@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := expiresAt.Sub(now); got != time.Hour {
		t.Fatalf("unexpected ttl: %v", got)
	}
	if c.TTL() != time.Hour {
		t.Fatalf("unexpected TTL(): %v", c.TTL())
	}
}

func TestCodecRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, &now, WithTTL(time.Hour))
	token, _, err := c.Issue(1, "a@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, offset := range []time.Duration{time.Hour, time.Hour + time.Second, 48 * time.Hour} {
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
		claims, err := c.Decode(token)
		if claims != nil {
			t.Fatalf("offset %v: expected no claims", offset)
		}
		var tokErr *TokenError
		if !errors.As(err, &tokErr) || tokErr.Code != "expired" {
			t.Fatalf("offset %v: expected expired error, got %v", offset, err)
		}
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("offset %v: expected ErrInvalidToken, got %v", offset, err)
		}
	}

	now = time.Date(2025, 3, 1, 12, 59, 59, 0, time.UTC)
	if _, err := c.Decode(token); err != nil {
		t.Fatalf("token should still be valid one second before expiry: %v", err)
	}
}

func TestCodecRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	issuer := newTestCodec(t, &now)
	token, _, err := issuer.Issue(1, "a@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewCodec("another-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	_, err = other.Decode(token)
	var tokErr *TokenError
	if !errors.As(err, &tokErr) || tokErr.Code != "signature" {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestCodecRejectsMalformed(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, &now)
	inputs := []string{
		"",
		"   ",
		"abc",
		"a.b.c",
		"eyJhbGciOiJIUzI1NiJ9.e30",
		"eyJhbGciOiJIUzI1NiJ9.!!!.sig",
		"....",
		"\x00\xff\xfe",
	}
	for _, in := range inputs {
		claims, err := c.Decode(in)
		if err == nil || claims != nil {
			t.Fatalf("Decode(%q) should fail", in)
		}
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Decode(%q) returned untyped error %v", in, err)
		}
	}
}

func TestCodecRejectsUnsignedAndForeignAlgorithms(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, &now)
	claims := Claims{
		UserID: 1,
		Email:  "a@example.com",
		Role:   RoleSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.Decode(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unsigned token rejection, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := c.Decode(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected HS512 token rejection, got %v", err)
	}
}

func TestCodecRejectsInconsistentClaims(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := newTestCodec(t, &now)

	sign := func(cl Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func() Claims {
		return Claims{
			UserID: 3,
			Email:  "a@example.com",
			Role:   RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    defaultIssuer,
				Subject:   strconv.Itoa(3),
				IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	cases := map[string]func(*Claims){
		"subject mismatch": func(cl *Claims) { cl.Subject = "4" },
		"missing user":     func(cl *Claims) { cl.UserID = 0; cl.Subject = "0" },
		"unknown role":     func(cl *Claims) { cl.Role = "ROOT" },
		"wrong issuer":     func(cl *Claims) { cl.Issuer = "someone-else" },
		"no expiry":        func(cl *Claims) { cl.ExpiresAt = nil },
		"future issued-at": func(cl *Claims) { cl.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour)) },
		"expiry before iat": func(cl *Claims) {
			cl.IssuedAt = jwt.NewNumericDate(now.Add(-time.Minute))
			cl.ExpiresAt = jwt.NewNumericDate(now.Add(-2 * time.Minute))
		},
	}
	for name, mutate := range cases {
		cl := base()
		mutate(&cl)
		if _, err := c.Decode(sign(cl)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected rejection, got %v", name, err)
		}
	}

	if _, err := c.Decode(sign(base())); err != nil {
		t.Fatalf("baseline token rejected: %v", err)
	}
}

func TestCodecIssueValidation(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, &now)
	if _, _, err := c.Issue(0, "a@example.com", RoleAdmin); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero id, got %v", err)
	}
	if _, _, err := c.Issue(1, "a@example.com", Role("ROOT")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewCodec("s", WithTTL(0)); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer a b", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		token, ok := ExtractBearer(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("ExtractBearer(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}
