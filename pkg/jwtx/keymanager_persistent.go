package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/issuer/pkg/cryptox"
)

// KeyRecord is a stored signing key. The private key is sealed at rest.
type KeyRecord struct {
	Kid       string
	Algorithm string
	SealedKey []byte
	CreatedAt time.Time
	RetiredAt *time.Time

	// ExpiresAt only applies once the key is retired.
	ExpiresAt time.Time
}

// Active reports whether the key may still sign.
func (r KeyRecord) Active() bool { return r.RetiredAt == nil }

// KeyStore persists signing keys. It is defined here so jwtx does not depend
// on any storage package.
type KeyStore interface {
	// ListSigningKeys returns active keys and retired keys that have not
	// passed ExpiresAt.
	ListSigningKeys(ctx context.Context, now time.Time) ([]KeyRecord, error)
	CreateSigningKey(ctx context.Context, rec KeyRecord) error
}

// PersistentKeyManagerOptions configures a KeyManager backed by a KeyStore.
type PersistentKeyManagerOptions struct {
	KeyManagerOptions

	Store  KeyStore
	Sealer *cryptox.Sealer

	// GracePeriod is how long a key stays verifiable after it is retired.
	// Defaults to 30 days.
	GracePeriod time.Duration
}

// NewPersistentKeyManager loads stored keys and tops up the active set to
// NumKeys with freshly generated keys. Retired keys that are still within
// their grace period are published for verification only.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil || opts.Sealer == nil {
		return nil, errors.New("jwtx: persistent key manager needs a Store and Sealer")
	}
	if err := opts.normalise(); err != nil {
		return nil, err
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * 24 * time.Hour
	}
	now := time.Now().UTC()
	if opts.Now != nil {
		now = opts.Now().UTC()
	}

	records, err := opts.Store.ListSigningKeys(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load keys: %w", err)
	}

	km := newKeyManager(opts.KeyManagerOptions)
	for _, rec := range records {
		pemKey, err := opts.Sealer.Open(rec.SealedKey)
		if err != nil {
			return nil, fmt.Errorf("jwtx: unseal %s: %w", rec.Kid, err)
		}
		s, err := NewSigner(rec.Algorithm, rec.Kid, pemKey)
		if err != nil {
			return nil, fmt.Errorf("jwtx: load %s: %w", rec.Kid, err)
		}
		if rec.Active() && len(km.signers) < opts.NumKeys {
			err = km.AddSigner(s)
		} else {
			err = km.keys.Add(s.PublicJWK())
		}
		if err != nil {
			return nil, err
		}
	}

	for len(km.signers) < opts.NumKeys {
		kid, err := NewKeyID()
		if err != nil {
			return nil, err
		}
		s, pemKey, err := GenerateSigner(opts.Algorithm, kid, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate key: %w", err)
		}
		sealed, err := opts.Sealer.Seal(pemKey)
		if err != nil {
			return nil, fmt.Errorf("jwtx: seal %s: %w", kid, err)
		}
		rec := KeyRecord{
			Kid:       kid,
			Algorithm: opts.Algorithm,
			SealedKey: sealed,
			CreatedAt: now,
			ExpiresAt: now.Add(opts.GracePeriod),
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: store %s: %w", kid, err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}
	return km, nil
}
