package invitations

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LinkMinter mints shareable link tokens. Tokens must be unpredictable and
// unique across active invitations; stores reject duplicates.
type LinkMinter interface {
	MintLink(invitationID string) (string, error)
}

// LinkVerifier is implemented by minters whose tokens can be checked
// without a store lookup.
type LinkVerifier interface {
	VerifyLink(token string) (invitationID string, err error)
}

// ErrInvalidLink is returned for link tokens that fail verification.
var ErrInvalidLink = errors.New("invalid invitation link")

// RandomLinks mints 256-bit hex tokens from crypto/rand.
type RandomLinks struct{}

func (RandomLinks) MintLink(string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// linkClaims binds a link token to one invitation. The random ID (jti)
// keeps tokens unguessable even for a known invitation id.
type linkClaims struct {
	InvitationID string `json:"inv"`
	jwt.RegisteredClaims
}

// JWTLinks mints HS256-signed link tokens so forged links are rejected
// before any store lookup. Expiry is not encoded: ExpiresAt can move on
// resend, so the invitation itself stays authoritative.
type JWTLinks struct {
	Key    []byte
	Issuer string
	Now    func() time.Time
}

func (j JWTLinks) MintLink(invitationID string) (string, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", err
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	claims := linkClaims{
		InvitationID: invitationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       hex.EncodeToString(jti),
			Issuer:   j.Issuer,
			IssuedAt: jwt.NewNumericDate(now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Key)
}

func (j JWTLinks) VerifyLink(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	var claims linkClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.Key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if claims.InvitationID == "" {
		return "", fmt.Errorf("%w: missing invitation id", ErrInvalidLink)
	}
	return claims.InvitationID, nil
}
