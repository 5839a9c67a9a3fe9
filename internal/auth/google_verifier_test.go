package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newJWKSServer(t *testing.T, publicKey rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwk := map[string]string{
		"kty": "RSA",
		"alg": "RS256",
		"kid": "test-key",
		"use": "sig",
		"n":   encodeBigInt(publicKey.N),
		"e":   encodeBigInt(publicKey.E),
	}
	jwksResponse := map[string]any{
		"keys": []any{jwk},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
	t.Cleanup(server.Close)
	return server
}

func signGoogleToken(t *testing.T, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestGoogleVerifierReturnsProfileClaims(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	jwksServer := newJWKSServer(t, privateKey.PublicKey)

	now := time.Now().UTC()
	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud":   "test-client",
		"iss":   "https://accounts.google.com",
		"sub":   "google-subject-123",
		"email": "user@example.com",
		"name":  "Example User",
		"exp":   now.Add(5 * time.Minute).Unix(),
		"iat":   now.Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:   "test-client",
		JWKSURL:    jwksServer.URL,
		HTTPClient: jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	verified, err := verifier.Verify(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if verified.Subject != "google-subject-123" {
		t.Fatalf("unexpected subject %s", verified.Subject)
	}
	if verified.Email != "user@example.com" {
		t.Fatalf("unexpected email %s", verified.Email)
	}
	if verified.Name != "Example User" {
		t.Fatalf("unexpected name %s", verified.Name)
	}
}

func TestGoogleVerifierRejectsInvalidAudience(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	jwksServer := newJWKSServer(t, privateKey.PublicKey)

	now := time.Now().UTC()
	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud":   "unexpected-client",
		"iss":   "https://accounts.google.com",
		"sub":   "google-subject-123",
		"email": "user@example.com",
		"exp":   now.Add(5 * time.Minute).Unix(),
		"iat":   now.Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:   "test-client",
		JWKSURL:    jwksServer.URL,
		HTTPClient: jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), signedToken); err == nil {
		t.Fatalf("expected verification to fail for mismatched audience")
	}
}

func TestGoogleVerifierRequiresEmailClaim(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	jwksServer := newJWKSServer(t, privateKey.PublicKey)

	now := time.Now().UTC()
	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud": "test-client",
		"iss": "https://accounts.google.com",
		"sub": "google-subject-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:   "test-client",
		JWKSURL:    jwksServer.URL,
		HTTPClient: jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), signedToken); !errors.Is(err, errMissingEmailClaim) {
		t.Fatalf("expected missing email claim error, got %v", err)
	}
}

func TestNewGoogleVerifierRequiresAudienceAndJWKS(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience: "",
		JWKSURL:  "https://example.com/jwks",
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAudienceConfig.Error()) {
		t.Fatalf("expected audience validation error to be reported, got %v", err)
	}

	_, err = NewGoogleVerifier(GoogleVerifierConfig{
		Audience: "test-client",
		JWKSURL:  " ",
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func TestNewGoogleVerifierRejectsEmptyIssuerList(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "   "},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errNoAllowedIssuers.Error()) {
		t.Fatalf("expected allowed issuers validation error to be reported, got %v", err)
	}
}

func encodeBigInt(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return base64.RawURLEncoding.EncodeToString(v.Bytes())
	case int:
		return base64.RawURLEncoding.EncodeToString(big.NewInt(int64(v)).Bytes())
	default:
		return ""
	}
}
