package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

// InitKeys builds the KeyManager for the configured storage mode.
//
//   - "ephemeral": keys live in memory and every restart invalidates issued
//     tokens.
//   - "persistent": keys are sealed with the master key and stored, so
//     tokens survive restarts and retired keys verify for the grace period.
//
// The sealer is nil in ephemeral mode.
//
// The verifier does not enforce an audience; tokens carry the client ID and
// callers check it with Validator.ValidateFor.
func InitKeys(ctx context.Context, cfg Config, db store.Store, c clock.Clock, logger *slog.Logger) (*jwtx.KeyManager, *cryptox.Sealer, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
		Now:       clock.Or(c).Now,
	}

	if cfg.KeyStorageMode != "persistent" {
		km, err := jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}
		logger.Info("generated ephemeral signing keys",
			"algorithm", km.Algorithm(),
			"num_keys", len(km.Signers()),
			"issuer", cfg.Issuer,
		)
		logger.Warn("tokens from previous runs no longer verify")
		return km, nil, nil
	}

	sealer, err := cryptox.LoadOrCreateSealer(cfg.MasterKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load master key: %w", err)
	}
	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: opts,
		Store:             store.NewKeyStoreAdapter(db),
		Sealer:            sealer,
		GracePeriod:       cfg.KeyGracePeriod,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
	}
	logger.Info("persistent signing keys loaded",
		"algorithm", km.Algorithm(),
		"num_keys", len(km.Signers()),
		"published", km.KeySet().Len(),
		"grace_period", cfg.KeyGracePeriod,
	)
	return km, sealer, nil
}
