package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	tokens, err := NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, expires, err := tokens.Generate("operator-1", []string{"Admin", "viewer", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiration, got %v", expires)
	}
	claims, err := tokens.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") {
		t.Fatalf("roles were not normalized: %v", claims.Roles)
	}

	ctx := ContextWithClaims(context.Background(), claims)
	if !HasRole(ctx, "ADMIN") || HasRole(ctx, "auditor") {
		t.Fatalf("unexpected role check result")
	}
	if sub, ok := SubjectFromContext(ctx); !ok || sub != "operator-1" {
		t.Fatalf("subject not in context: %q", sub)
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := NewTokens("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestRejectsForeignAndExpiredTokens(t *testing.T) {
	a, _ := NewTokens("secret-a")
	b, _ := NewTokens("secret-b")
	token, _, _ := a.Generate("op", nil, time.Minute)
	if _, err := b.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token accepted: %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	a.now = func() time.Time { return past }
	old, _, _ := a.Generate("op", nil, time.Minute)
	a.now = time.Now
	if _, err := a.ParseAndValidate(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestRejectsWrongIssuerAndAlgorithm(t *testing.T) {
	tokens, _ := NewTokens("secret")
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "op",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if _, err := tokens.ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer accepted: %v", err)
	}

	claims.Issuer = issuer
	signed, _ = jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if _, err := tokens.ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512 token accepted: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc.def"); !ok || tok != "abc.def" {
		t.Fatalf("unexpected parse: %q %v", tok, ok)
	}
	for _, h := range []string{"", "Basic abc", "Bearer ", "abc"} {
		if _, ok := BearerToken(h); ok {
			t.Fatalf("accepted %q", h)
		}
	}
}
