package jwtx

import (
	"crypto"
	"errors"
	"slices"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds public verification keys by kid. Safe for concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	jwks []JWK
	pub  map[string]crypto.PublicKey
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{pub: make(map[string]crypto.PublicKey)}
}

// Add registers a JWK. Re-adding a kid replaces the previous key.
func (k *KeySet) Add(j JWK) error {
	pub, err := j.PublicKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.jwks = slices.DeleteFunc(k.jwks, func(e JWK) bool { return e.Kid == j.Kid })
	k.jwks = append(k.jwks, j)
	k.pub[j.Kid] = pub
	return nil
}

// Remove drops kid from the set. Tokens signed by it stop verifying.
func (k *KeySet) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.pub, kid)
	k.jwks = slices.DeleteFunc(k.jwks, func(e JWK) bool { return e.Kid == kid })
}

// Get returns the public key registered under kid.
func (k *KeySet) Get(kid string) (crypto.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pub, ok := k.pub[kid]; ok {
		return pub, nil
	}
	return nil, ErrNoKey
}

// JWKS returns a snapshot suitable for publishing.
func (k *KeySet) JWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: slices.Clone(k.jwks)}
}

// Len reports the number of keys.
func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub)
}

// Replace swaps the whole set for the keys in jwks. On error the set is
// left unchanged.
func (k *KeySet) Replace(jwks JWKS) error {
	pub := make(map[string]crypto.PublicKey, len(jwks.Keys))
	for _, j := range jwks.Keys {
		key, err := j.PublicKey()
		if err != nil {
			return err
		}
		pub[j.Kid] = key
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.pub = pub
	k.jwks = slices.Clone(jwks.Keys)
	return nil
}
