// Package auth validates the API keys used by store staff and payment
// provider callbacks.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeOrdersRead    = "orders:read"
	ScopePaymentsWrite = "payments:write"
)

var (
	// ErrNotFound is returned by a Repository when no active key has the hash.
	ErrNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for missing, unknown or mismatching keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator checks raw API keys against a Repository. Keys are never
// stored, only their HMAC-SHA256 under a server-side pepper.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC of key as stored in the repository.
func (a *Authenticator) Hash(key string) string {
	return hex.EncodeToString(a.sum(key))
}

func (a *Authenticator) sum(key string) []byte {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticate resolves key to its APIKeyInfo and checks that it carries
// scope. An empty scope only checks the key.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}

	hash := a.sum(key)
	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrUnauthorized
	case err != nil:
		return nil, errors.Wrap(err, "find api key")
	}

	// The row must carry exactly the hash we computed.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}

	if scope != "" && !info.HasScope(scope) {
		return nil, ErrForbidden
	}
	return info, nil
}
