package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuerConfig  = errors.New("issuer must be provided")
	errMissingUserID        = errors.New("user id claim must be provided")

	// ErrTokenMalformed reports a token that could not be parsed at all.
	ErrTokenMalformed = errors.New("auth: malformed token")
	// ErrTokenSignature reports a token whose signature does not match the signing secret.
	ErrTokenSignature = errors.New("auth: token signature invalid")
	// ErrTokenExpired reports a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
)

// IdentityClaims is the claim set a session token is minted from.
type IdentityClaims struct {
	UserID   string
	Email    string
	Provider string
	Name     string
}

// SessionClaims is the JWT payload carried by issued session tokens.
type SessionClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// TokenCodecConfig configures the session token codec.
type TokenCodecConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenCodec signs and verifies the stateless session tokens shared by every
// service boundary. Verification depends only on the signing secret, never on
// server-side session state.
type TokenCodec struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenCodec constructs a codec with validated configuration.
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuerConfig
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenCodec{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token and its expiry (seconds) for the claims.
func (c *TokenCodec) Issue(_ context.Context, claims IdentityClaims) (string, int64, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", 0, errMissingUserID
	}

	now := c.clock().UTC()
	expiresAt := now.Add(c.tokenTTL).UTC()

	payload := SessionClaims{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Provider: claims.Provider,
		Name:     claims.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(c.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Verify validates the supplied token string and returns the parsed claims.
// Signature mismatches are reported ahead of expiry so a tampered token is
// never acknowledged as merely stale.
func (c *TokenCodec) Verify(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrTokenMalformed
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return c.signingSecret, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenSignature, err)
		}
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrTokenSignature
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, errMissingUserID)
	}
	return *claims, nil
}
