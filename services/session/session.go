// Package session holds authenticated user sessions and one-time OAuth state
// nonces in memory. Nothing here survives a process restart.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when an identifier is unknown, expired or already used.
var ErrNotFound = errors.New("session not found")

// Identity describes the hosting account that owns a session.
type Identity struct {
	Login       string `json:"login"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
}

// Session binds an opaque identifier to a hosting credential.
type Session struct {
	ID         string
	Owner      Identity
	Credential string
	CreatedAt  time.Time
}

// Repository is the session store capability the rest of the service depends on.
type Repository interface {
	// Create stores a new session and returns its identifier.
	Create(owner Identity, credential string) (string, error)
	// Lookup returns the session for id or ErrNotFound.
	Lookup(id string) (Session, error)
	// Delete removes id. Unknown ids are ignored.
	Delete(id string)
	// Sweep removes sessions older than maxAge and returns how many were removed.
	Sweep(maxAge time.Duration) int
	// Clear removes every session and returns how many were removed.
	Clear() int
	// Len reports the number of live sessions.
	Len() int
}

// tokenBytes gives 256 bits of entropy per identifier.
const tokenBytes = 32

func newToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// digest is the map key for a token. Lookups compare fixed-length hashes, so
// the time spent does not depend on how much of a guessed token is correct.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
