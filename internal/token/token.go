// Package token issues and validates the stateless bearer credentials used
// by the identity service. Validity is determined entirely by signature and
// expiry; nothing is persisted and revocation is not supported.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTTL = 30 * time.Minute

// ErrInvalidToken indicates the token failed validation. Signature mismatch,
// algorithm confusion, expiry and malformed input all collapse into it.
var ErrInvalidToken = errors.New("invalid token")

// Signer signs and verifies HS256 session tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Signer behavior.
type Option func(*Signer)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer sets the issuer claim embedded into tokens.
func WithIssuer(issuer string) Option {
	return func(s *Signer) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner constructs a Signer. The secret comes from the vault at startup.
func NewSigner(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	s := &Signer{
		secret: secret,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for the given subject.
func (s *Signer) Issue(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies signature and expiry and returns the subject.
// Any signature mismatch or unexpected algorithm fails closed.
func (s *Signer) Validate(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != "" && claims.Issuer != s.issuer {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
