package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/sqlite"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/storetest"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, dsn string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStore_Memory(t *testing.T) {
	storetest.Run(t, newStore(t, ":memory:"))
}

func TestStore_File(t *testing.T) {
	// Concurrent writers wait on the lock instead of failing with SQLITE_BUSY.
	dsn := "file:" + filepath.Join(t.TempDir(), "issuer.db") + "?_pragma=busy_timeout(5000)"
	storetest.Run(t, newStore(t, dsn))
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := newStore(t, ":memory:")
	require.NoError(t, s.ApplyMigrations())
}
