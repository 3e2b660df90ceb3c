package store

import (
	"context"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

// KeyStoreAdapter exposes a Store's signing keys as a jwtx.KeyStore so jwtx
// stays independent of the domain package.
type KeyStoreAdapter struct {
	store Store
}

func NewKeyStoreAdapter(s Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{store: s}
}

func (a *KeyStoreAdapter) ListSigningKeys(ctx context.Context, now time.Time) ([]jwtx.KeyRecord, error) {
	keys, err := a.store.SigningKeys().ListSigningKeys(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]jwtx.KeyRecord, len(keys))
	for i, k := range keys {
		out[i] = jwtx.KeyRecord{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			SealedKey: k.SealedKey,
			CreatedAt: k.CreatedAt,
			RetiredAt: k.RetiredAt,
			ExpiresAt: k.ExpiresAt,
		}
	}
	return out, nil
}

func (a *KeyStoreAdapter) CreateSigningKey(ctx context.Context, rec jwtx.KeyRecord) error {
	return a.store.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
		Kid:       rec.Kid,
		Algorithm: rec.Algorithm,
		SealedKey: rec.SealedKey,
		CreatedAt: rec.CreatedAt,
		RetiredAt: rec.RetiredAt,
		ExpiresAt: rec.ExpiresAt,
	})
}
