package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	tokenTypeRefresh = "refresh"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrRefreshToken = errors.New("refresh token cannot open a session")
)

// Claims are the session claims carried by player tokens.
type Claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret     []byte
	clock      clockwork.Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokens(secret string, clock clockwork.Clock) *Tokens {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{
		secret:     []byte(secret),
		clock:      clock,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
}

// IssueAccess returns an access token for userID.
func (t *Tokens) IssueAccess(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = t.accessTTL
	}
	return t.sign(userID, "", ttl)
}

// IssueRefresh returns a long-lived refresh token for userID.
func (t *Tokens) IssueRefresh(userID string) (string, error) {
	return t.sign(userID, tokenTypeRefresh, t.refreshTTL)
}

func (t *Tokens) sign(userID, typ string, ttl time.Duration) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates an access token and returns its subject.
func (t *Tokens) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type == tokenTypeRefresh {
		return "", ErrRefreshToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
