package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

// DefaultKeyGracePeriod is how long a retired key keeps verifying.
const DefaultKeyGracePeriod = 30 * 24 * time.Hour

// KeyRotationService adds signing keys and retires old ones at runtime.
//
// With a nil Store the rotation only affects the in-memory KeyManager.
// Otherwise the new key is sealed and stored, and retirements are recorded
// with a verification grace period so other processes pick them up on start.
type KeyRotationService struct {
	Store       store.Store
	Sealer      *cryptox.Sealer
	KeyManager  *jwtx.KeyManager
	RSABits     int
	GracePeriod time.Duration
	Clock       clock.Clock
}

// Rotation reports the outcome of RotateKey.
type Rotation struct {
	NewKID     string
	RetiredKID []string
	ActiveKeys int
}

// RotateKey generates a key with the manager's algorithm. When
// retireExisting is set every previously active key stops signing.
func (s *KeyRotationService) RotateKey(ctx context.Context, retireExisting bool) (Rotation, error) {
	if s.KeyManager == nil {
		return Rotation{}, errors.New("key rotation: KeyManager is required")
	}
	if s.Store != nil && s.Sealer == nil {
		return Rotation{}, errors.New("key rotation: persistent rotation needs a Sealer")
	}
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultKeyGracePeriod
	}
	now := clock.Or(s.Clock).Now().UTC()

	kid, err := jwtx.NewKeyID()
	if err != nil {
		return Rotation{}, err
	}
	alg := s.KeyManager.Algorithm()
	signer, pemKey, err := jwtx.GenerateSigner(alg, kid, s.RSABits)
	if err != nil {
		return Rotation{}, fmt.Errorf("key rotation: generate: %w", err)
	}

	var retire []string
	if retireExisting {
		for _, old := range s.KeyManager.Signers() {
			retire = append(retire, old.KID())
		}
	}

	if s.Store != nil {
		sealed, err := s.Sealer.Seal(pemKey)
		if err != nil {
			return Rotation{}, fmt.Errorf("key rotation: seal: %w", err)
		}
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			keys := tx.SigningKeys()
			if err := keys.CreateSigningKey(ctx, domain.SigningKey{
				Kid:       kid,
				Algorithm: alg,
				SealedKey: sealed,
				CreatedAt: now,
				ExpiresAt: now.Add(grace),
			}); err != nil {
				return fmt.Errorf("store %s: %w", kid, err)
			}
			if !retireExisting {
				return nil
			}

			// Keys active in the store but not loaded here are retired too.
			stored, err := keys.ListSigningKeys(ctx, now)
			if err != nil {
				return err
			}
			retire = retire[:0]
			for _, k := range stored {
				if k.RetiredAt != nil || k.Kid == kid {
					continue
				}
				if err := keys.RetireSigningKey(ctx, k.Kid, now, now.Add(grace)); err != nil {
					return fmt.Errorf("retire %s: %w", k.Kid, err)
				}
				retire = append(retire, k.Kid)
			}
			return nil
		})
		if err != nil {
			return Rotation{}, fmt.Errorf("key rotation: %w", err)
		}
	}

	if err := s.KeyManager.AddSigner(signer); err != nil {
		return Rotation{}, fmt.Errorf("key rotation: %w", err)
	}
	for _, old := range retire {
		if err := s.KeyManager.RetireSigner(old); err != nil && !errors.Is(err, jwtx.ErrNoKey) {
			return Rotation{}, fmt.Errorf("key rotation: %w", err)
		}
	}

	return Rotation{
		NewKID:     kid,
		RetiredKID: retire,
		ActiveKeys: len(s.KeyManager.Signers()),
	}, nil
}
