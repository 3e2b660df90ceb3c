package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/sqlite"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/storetest"
)

type markedTokens struct{ store.RefreshTokens }

func TestWithRefreshTokens(t *testing.T) {
	base, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	require.NoError(t, base.ApplyMigrations())

	refresh := &markedTokens{base.RefreshTokens()}
	s := store.WithRefreshTokens(base, refresh)
	require.Same(t, refresh, s.RefreshTokens())

	storetest.Run(t, s)

	t.Run("tx keeps the replacement", func(t *testing.T) {
		ctx := context.Background()

		tx, err := s.Tx(ctx)
		require.NoError(t, err)
		require.Same(t, refresh, tx.RefreshTokens())
		c := storetest.Client("read")
		require.NoError(t, tx.Clients().CreateClient(ctx, c))
		require.NoError(t, tx.Rollback())
		_, err = s.Clients().GetClientByID(ctx, c.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			require.Same(t, refresh, tx.RefreshTokens())
			return tx.Clients().CreateClient(ctx, c)
		}))
		_, err = s.Clients().GetClientByID(ctx, c.ID)
		require.NoError(t, err)
	})
}
