// Package identity turns bearer tokens into invitation principals.
//
// Authentication proper belongs to the host platform. Tokens here are HS256
// JWTs signed with a key derived from the shared secret, which is enough for
// a deployment behind a gateway that mints them and for local development.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

var (
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrNoPrincipal  = errors.New("no authenticated principal in context")
)

// Claims is the bearer token payload. Subject is the user id; Roles maps
// "type:id" target keys to role names.
type Claims struct {
	Name  string            `json:"name,omitempty"`
	Email string            `json:"email"`
	Roles map[string]string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and parses bearer tokens.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer derives the bearer signing key from secret.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	key, err := DeriveKey(secret, PurposeBearer)
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *t
	c.now = now
	return &c
}

// Issue signs a token for p.
func (t *TokenIssuer) Issue(p invitations.Principal) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("%w: principal id is required", ErrInvalidToken)
	}
	now := t.now()
	claims := Claims{
		Name:  p.Name,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	if len(p.Roles) > 0 {
		claims.Roles = make(map[string]string, len(p.Roles))
		for k, r := range p.Roles {
			claims.Roles[k] = string(r)
		}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Parse verifies token and returns the principal it names.
func (t *TokenIssuer) Parse(token string) (invitations.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return invitations.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return invitations.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	p := invitations.Principal{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
	}
	if len(claims.Roles) > 0 {
		p.Roles = make(map[string]invitations.Role, len(claims.Roles))
		for k, r := range claims.Roles {
			role := invitations.Role(r)
			if !role.Valid() {
				return invitations.Principal{}, fmt.Errorf("%w: unknown role %q for %s", ErrInvalidToken, r, k)
			}
			p.Roles[k] = role
		}
	}
	return p, nil
}

type principalKey struct{}

// WithPrincipal attaches p to the context.
func WithPrincipal(ctx context.Context, p invitations.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the authenticated principal.
func FromContext(ctx context.Context) (invitations.Principal, error) {
	p, ok := ctx.Value(principalKey{}).(invitations.Principal)
	if !ok || p.ID == "" {
		return invitations.Principal{}, ErrNoPrincipal
	}
	return p, nil
}
