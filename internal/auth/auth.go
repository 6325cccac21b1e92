// internal/auth/auth.go

// Package auth maps bearer tokens to room actors. Tokens are HS256 JWTs
// carrying the user id, display name, avatar and admin flag.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/petervdpas/tuneroom/internal/room"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret is empty")
)

const DefaultTTL = 24 * time.Hour

// Claims is the token payload. Subject is the user id.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the actor rooms see.
func (c *Claims) Actor() room.Actor {
	return room.Actor{
		UserID:      c.Subject,
		DisplayName: c.Name,
		AvatarURL:   c.Avatar,
		Admin:       c.Admin,
	}
}

// Signer issues and verifies tokens with one shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewSigner(secret string, ttl time.Duration, clk clock.Clock) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// Issue signs a token for a.
func (s *Signer) Issue(a room.Actor) (string, error) {
	if a.UserID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := s.clock.Now()
	claims := Claims{
		Name:   a.DisplayName,
		Avatar: a.AvatarURL,
		Admin:  a.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses tok and returns its actor.
func (s *Signer) Verify(tok string) (room.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return room.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return room.Actor{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Actor(), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenMalformed)
	}
	return strings.TrimSpace(tok), nil
}

// PeekActor reads the actor from tok without checking the signature. Clients
// use it to learn their own identity; servers must use Verify.
func PeekActor(tok string) (room.Actor, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return room.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return room.Actor{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Actor(), nil
}
