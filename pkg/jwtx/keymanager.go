package jwtx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/issuer/pkg/cryptox"
)

// ErrNoSigner is returned when every signing key has been retired.
var ErrNoSigner = errors.New("jwtx: no active signing key")

const (
	defaultNumKeys = 3
	maxNumKeys     = 10
)

// KeyManager owns the active signing keys and the KeySet used to verify and
// publish them. Signing picks one active key at random per call.
type KeyManager struct {
	mu        sync.RWMutex
	signers   []Signer
	keys      *KeySet
	verifier  *KeySetVerifier
	algorithm string
}

// KeyManagerOptions configures a KeyManager.
type KeyManagerOptions struct {
	// Algorithm for newly generated keys: RS256, ES256 or EdDSA.
	Algorithm string

	// Issuer enforced by the manager's verifier.
	Issuer string

	// Audience enforced by the manager's verifier; empty disables the check.
	Audience []string

	// RSABits for RS256 keys. Defaults to 4096.
	RSABits int

	// NumKeys is the number of active signing keys, clamped to [1,10].
	// Defaults to 3.
	NumKeys int

	// Now is the verifier's time source. Defaults to time.Now.
	Now func() time.Time
}

func (o *KeyManagerOptions) normalise() error {
	if o.Issuer == "" {
		return errors.New("jwtx: Issuer is required")
	}
	switch o.Algorithm {
	case AlgorithmEdDSA, AlgorithmES256, AlgorithmRS256:
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedAlg, o.Algorithm)
	}
	if o.NumKeys <= 0 {
		o.NumKeys = defaultNumKeys
	}
	o.NumKeys = min(o.NumKeys, maxNumKeys)
	return nil
}

func newKeyManager(opts KeyManagerOptions) *KeyManager {
	keys := NewKeySet()
	return &KeyManager{
		keys:      keys,
		algorithm: opts.Algorithm,
		verifier: NewVerifier(keys, VerifyOptions{
			Issuer:   opts.Issuer,
			Audience: opts.Audience,
			Now:      opts.Now,
		}),
	}
}

// NewEphemeralKeyManager generates NumKeys keys held only in memory. Tokens
// signed by them stop verifying when the process exits.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if err := opts.normalise(); err != nil {
		return nil, err
	}

	km := newKeyManager(opts)
	for i := range opts.NumKeys {
		kid, err := NewKeyID()
		if err != nil {
			return nil, err
		}
		s, _, err := GenerateSigner(opts.Algorithm, kid, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate key %d: %w", i+1, err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// NewKeyID returns a random key identifier.
func NewKeyID() (string, error) {
	tok, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: key id: %w", err)
	}
	return "iss-" + tok, nil
}

// Algorithm returns the algorithm used for new keys.
func (km *KeyManager) Algorithm() string { return km.algorithm }

// KeySet exposes the verification keys, including retired ones still in
// their grace period.
func (km *KeyManager) KeySet() *KeySet { return km.keys }

// Verifier returns a verifier over the manager's KeySet.
func (km *KeyManager) Verifier() Verifier { return km.verifier }

// IsReady reports whether at least one key can sign.
func (km *KeyManager) IsReady() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers) > 0
}

// Signer returns a random active signer.
func (km *KeyManager) Signer() (Signer, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	switch len(km.signers) {
	case 0:
		return nil, ErrNoSigner
	case 1:
		return km.signers[0], nil
	default:
		return km.signers[rand.IntN(len(km.signers))], nil
	}
}

// Signers returns a copy of the active signers.
func (km *KeyManager) Signers() []Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return slices.Clone(km.signers)
}

// AddSigner activates s for signing and publishes its public key.
func (km *KeyManager) AddSigner(s Signer) error {
	if s == nil {
		return errors.New("jwtx: nil signer")
	}
	if err := km.keys.Add(s.PublicJWK()); err != nil {
		return fmt.Errorf("jwtx: publish %s: %w", s.KID(), err)
	}
	km.mu.Lock()
	km.signers = append(km.signers, s)
	km.mu.Unlock()
	return nil
}

// RetireSigner stops signing with kid. Its public key stays in the KeySet
// so outstanding tokens keep verifying. The last active key cannot be
// retired.
func (km *KeyManager) RetireSigner(kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	i := slices.IndexFunc(km.signers, func(s Signer) bool { return s.KID() == kid })
	if i < 0 {
		return fmt.Errorf("%w %q", ErrNoKey, kid)
	}
	if len(km.signers) == 1 {
		return errors.New("jwtx: cannot retire the last signing key")
	}
	km.signers = slices.Delete(km.signers, i, i+1)
	return nil
}
