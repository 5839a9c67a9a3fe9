package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T, secret string, clock func() time.Time) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(TokenCodecConfig{
		SigningSecret: []byte(secret),
		Issuer:        "scalops-auth",
		TokenTTL:      24 * time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return codec
}

func TestTokenCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t, "super-secret", nil)

	claims := IdentityClaims{
		UserID:   "user-123",
		Email:    "a@b.com",
		Provider: "local",
		Name:     "Test User",
	}
	token, expiresIn, err := codec.Issue(context.Background(), claims)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	verified, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("expected verification success: %v", err)
	}
	if verified.UserID != claims.UserID {
		t.Fatalf("unexpected user id %q", verified.UserID)
	}
	if verified.Email != claims.Email {
		t.Fatalf("unexpected email %q", verified.Email)
	}
	if verified.Provider != claims.Provider {
		t.Fatalf("unexpected provider %q", verified.Provider)
	}
	if verified.Name != claims.Name {
		t.Fatalf("unexpected name %q", verified.Name)
	}
}

func TestNewTokenCodecRequiresSecretAndIssuer(t *testing.T) {
	_, err := NewTokenCodec(TokenCodecConfig{Issuer: "scalops-auth"})
	if err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}

	_, err = NewTokenCodec(TokenCodecConfig{SigningSecret: []byte("secret"), Issuer: " "})
	if err == nil {
		t.Fatalf("expected constructor error for missing issuer")
	}
}

func TestTokenCodecIssueRequiresUserID(t *testing.T) {
	codec := newTestCodec(t, "secret", nil)
	_, _, err := codec.Issue(context.Background(), IdentityClaims{Email: "a@b.com"})
	if err == nil {
		t.Fatalf("expected issuance to fail without user id")
	}
}

func TestTokenCodecRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	issuing := newTestCodec(t, "shared-secret", func() time.Time { return issuedAt })
	verifying := newTestCodec(t, "shared-secret", func() time.Time { return issuedAt.Add(25 * time.Hour) })

	token, _, err := issuing.Issue(context.Background(), IdentityClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	_, err = verifying.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	// Still valid just inside the window.
	fresh := newTestCodec(t, "shared-secret", func() time.Time { return issuedAt.Add(23 * time.Hour) })
	if _, err := fresh.Verify(token); err != nil {
		t.Fatalf("expected token valid before expiry: %v", err)
	}
}

func TestTokenCodecRejectsTamperedToken(t *testing.T) {
	codec := newTestCodec(t, "super-secret", nil)
	token, _, err := codec.Issue(context.Background(), IdentityClaims{UserID: "user-1", Email: "a@b.com"})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	flipped := byte('A')
	if token[len(token)-1] == flipped {
		flipped = 'B'
	}
	tampered := token[:len(token)-1] + string(flipped)

	_, err = codec.Verify(tampered)
	if !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for tampered token, got %v", err)
	}
}

func TestTokenCodecRejectsWrongSecret(t *testing.T) {
	issuing := newTestCodec(t, "secret-one", nil)
	verifying := newTestCodec(t, "secret-two", nil)

	token, _, err := issuing.Issue(context.Background(), IdentityClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	_, err = verifying.Verify(token)
	if !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for wrong secret, got %v", err)
	}
}

func TestTokenCodecRejectsMalformedToken(t *testing.T) {
	codec := newTestCodec(t, "super-secret", nil)

	for _, token := range []string{"", "   ", "not-a-token", "a.b"} {
		_, err := codec.Verify(token)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected ErrTokenMalformed for %q, got %v", token, err)
		}
	}
}

func TestTokenCodecSignatureCheckedBeforeExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	issuing := newTestCodec(t, "secret-one", func() time.Time { return issuedAt })
	verifying := newTestCodec(t, "secret-two", func() time.Time { return issuedAt.Add(48 * time.Hour) })

	token, _, err := issuing.Issue(context.Background(), IdentityClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	// Expired and wrongly signed: the signature verdict must win.
	_, err = verifying.Verify(token)
	if !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature to take precedence, got %v", err)
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired verdict must not leak for a badly signed token")
	}
	if !strings.Contains(err.Error(), "signature") {
		t.Fatalf("expected signature detail in error, got %v", err)
	}
}
