package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Identity headers set by the surrounding application.
const (
	HeaderSecret   = "X-Storechat-Secret"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// DefaultRole is assigned when the caller sends no role header.
const DefaultRole = "staff"

// ErrUnauthorized reports a missing or wrong shared secret.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator derives the end user identity from an inbound request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// HeaderAuthenticator trusts identity headers from a caller that knows the
// shared secret.
type HeaderAuthenticator struct {
	sharedSecret string
}

// NewHeaderAuthenticator creates a header authenticator. An empty secret
// disables the secret check.
func NewHeaderAuthenticator(sharedSecret string) *HeaderAuthenticator {
	return &HeaderAuthenticator{sharedSecret: sharedSecret}
}

// Authenticate verifies the shared secret and reads the identity headers.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	if a.sharedSecret != "" && !a.verifySecret(r.Header.Get(HeaderSecret)) {
		return Identity{}, ErrUnauthorized
	}

	id := Identity{
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		Role: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
	}
	if id.Role == "" {
		id.Role = DefaultRole
	}
	return id, nil
}

func (a *HeaderAuthenticator) verifySecret(secret string) bool {
	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// identityKey returns the rate-limit bucket of an identity.
func identityKey(id Identity, r *http.Request) string {
	if id.Name != "" {
		return "user:" + id.Name
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "addr:" + host
}
