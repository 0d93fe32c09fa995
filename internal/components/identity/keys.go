package identity

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each signing use gets its own key so a token minted for one
// purpose never verifies for another.
const (
	PurposeBearer  = "bearer"
	PurposeLinks   = "links"
	PurposeWebhook = "webhook"
)

const derivedKeyLen = 32

// ErrWeakSecret is returned when the configured secret is too short.
var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

// DeriveKey derives a 256-bit key for purpose from the shared secret using
// HKDF-SHA256.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("circleinvite/"+purpose))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
