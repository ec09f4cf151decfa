package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/entitygate/core/identity"
)

// DefaultKeyHeader carries API keys when no header is configured.
const DefaultKeyHeader = "X-API-Key"

// ErrInvalidCredentials is returned when a request carries credentials that
// do not verify.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator resolves the caller of an HTTP request.
type Authenticator struct {
	tokens    *TokenService
	keys      *KeyStore
	keyHeader string
}

// NewAuthenticator creates an authenticator. Either source may be nil.
func NewAuthenticator(tokens *TokenService, keys *KeyStore, keyHeader string) *Authenticator {
	if keyHeader == "" {
		keyHeader = DefaultKeyHeader
	}
	return &Authenticator{tokens: tokens, keys: keys, keyHeader: keyHeader}
}

// Authenticate returns the identity of r. A request without credentials
// returns nil and no error; the entity service answers it with NO_SESSION.
func (a *Authenticator) Authenticate(r *http.Request) (*identity.Identity, error) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || a.tokens == nil {
			return nil, ErrInvalidCredentials
		}
		id, err := a.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			return nil, errors.Join(ErrInvalidCredentials, err)
		}
		return id, nil
	}

	if key := r.Header.Get(a.keyHeader); key != "" {
		if a.keys == nil {
			return nil, ErrInvalidCredentials
		}
		id, _, ok := a.keys.Lookup(key)
		if !ok {
			return nil, ErrInvalidCredentials
		}
		return id, nil
	}

	return nil, nil
}
