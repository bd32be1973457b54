// Package auth mints and verifies stateless session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionLifetime is how long a minted token is accepted.
const SessionLifetime = 24 * time.Hour

var (
	// ErrInvalid covers malformed tokens, bad signatures and unexpected
	// signing methods.
	ErrInvalid = errors.New("invalid session token")
	// ErrExpired is returned for a well-formed token past its exp claim.
	ErrExpired = errors.New("session token expired")
)

// SessionIssuer handles HS256 session token generation and validation.
// Tokens carry only sub, iat and exp.
type SessionIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a SessionIssuer.
type Option func(*SessionIssuer)

// WithClock replaces time.Now for minting and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *SessionIssuer) { s.now = now }
}

// WithLifetime overrides SessionLifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *SessionIssuer) { s.lifetime = d }
}

// NewSessionIssuer creates an issuer signing with secret.
func NewSessionIssuer(secret string, opts ...Option) *SessionIssuer {
	s := &SessionIssuer{
		secret:   []byte(secret),
		lifetime: SessionLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lifetime returns how long minted tokens stay valid.
func (s *SessionIssuer) Lifetime() time.Duration {
	return s.lifetime
}

// Mint creates a signed token for userID.
func (s *SessionIssuer) Mint(userID string) (string, time.Time, error) {
	now := s.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(s.lifetime)

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify parses tokenString and returns its subject.
func (s *SessionIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalid
	}

	return claims.Subject, nil
}
