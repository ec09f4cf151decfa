package auth

import (
	"errors"
	"sync"

	"github.com/artpar/entitygate/core/identity"
	"golang.org/x/crypto/bcrypt"
)

// APIKey is a configured key. Hash is the bcrypt hash of the key; the
// plaintext is never stored.
type APIKey struct {
	Name    string
	Hash    string
	Subject string
	Role    string
}

// HashKey returns the bcrypt hash of a plaintext key. Out-of-range costs use
// bcrypt.DefaultCost.
func HashKey(plaintext string, cost int) (string, error) {
	if plaintext == "" {
		return "", errors.New("empty key")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// KeyStore holds the configured API keys. Replace swaps the whole set, so a
// config reload never exposes a partial set.
type KeyStore struct {
	mu   sync.RWMutex
	keys []APIKey
}

// NewKeyStore creates a store holding keys.
func NewKeyStore(keys []APIKey) *KeyStore {
	s := &KeyStore{}
	s.Replace(keys)
	return s
}

// Replace swaps the configured keys.
func (s *KeyStore) Replace(keys []APIKey) {
	next := append([]APIKey(nil), keys...)
	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Lookup returns the identity of the key matching plaintext.
func (s *KeyStore) Lookup(plaintext string) (*identity.Identity, string, bool) {
	if plaintext == "" {
		return nil, "", false
	}
	s.mu.RLock()
	keys := s.keys
	s.mu.RUnlock()

	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(plaintext)) == nil {
			return &identity.Identity{Subject: k.Subject, Role: k.Role}, k.Name, true
		}
	}
	return nil, "", false
}
