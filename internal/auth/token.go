// Package auth - token.go handles the short-lived caller tokens minted by the
// chat front end: HS256 signing with a shared secret, and verification of the
// tenant and identity claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

var (
	ErrInvalidToken   = errors.New("invalid caller token")
	ErrMissingClaims  = errors.New("caller token is missing tenant or subject")
	ErrSecretTooShort = fmt.Errorf("caller token secret must be at least %d characters", MinSecretLength)
)

// CallerClaims identifies who is calling on behalf of which tenant. Subject
// carries the caller identity.
type CallerClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity carried in the subject claim.
func (c *CallerClaims) Identity() string {
	return c.Subject
}

// TokenService signs and verifies caller tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration

	now func() time.Time
}

// NewTokenService creates a TokenService. ttl is used when minting; tokens with
// any remaining lifetime are accepted.
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a token for identity acting in tenantID. The server never needs
// this; cmd tools and tests use it to produce front-end style tokens.
func (s *TokenService) Issue(tenantID, identity string) (string, error) {
	if tenantID == "" || identity == "" {
		return "", ErrMissingClaims
	}

	now := s.now()
	claims := &CallerClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   identity,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign caller token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a caller token.
func (s *TokenService) Validate(tokenString string) (*CallerClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}
