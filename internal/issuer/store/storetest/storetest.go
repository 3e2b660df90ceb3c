// Package storetest holds behaviour tests shared by every store driver.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Now returns a timestamp every driver can round-trip exactly.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// Client returns an active client fixture with a unique ID.
func Client(scopes ...string) domain.Client {
	now := Now()
	return domain.Client{
		ID:        idx.New().String(),
		Name:      "fixture",
		Scopes:    scopes,
		Status:    domain.ClientActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RefreshToken returns a refresh token fixture for subject at clientID.
func RefreshToken(subject, clientID string, expiresAt time.Time) domain.RefreshToken {
	value := cryptox.FingerprintToken(idx.New().String())
	now := Now()
	return domain.RefreshToken{
		ID:          idx.New().String(),
		TokenHash:   cryptox.FingerprintToken(value),
		Subject:     subject,
		Authorities: []string{"ROLE_USER"},
		ClientID:    clientID,
		SessionID:   idx.New().String(),
		Scopes:      []string{"read", "write"},
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Run exercises a full Store.
func Run(t *testing.T, s store.Store) {
	t.Run("Clients", func(t *testing.T) { testClients(t, s) })
	t.Run("RefreshTokens", func(t *testing.T) {
		c := Client("read", "write")
		require.NoError(t, s.Clients().CreateClient(context.Background(), c))
		RunRefreshTokens(t, s.RefreshTokens(), c.ID)
	})
	t.Run("SigningKeys", func(t *testing.T) { testSigningKeys(t, s) })
	t.Run("Tx", func(t *testing.T) { testTx(t, s) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, s.Ping(context.Background())) })
}

func testClients(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.Clients()

	c := Client("read", "write")
	c.SecretHash = "$argon2id$stub"
	require.NoError(t, repo.CreateClient(ctx, c))
	require.ErrorIs(t, repo.CreateClient(ctx, c), store.ErrAlreadyExists)

	got, err := repo.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, c.Name, got.Name)
	require.Equal(t, c.SecretHash, got.SecretHash)
	require.Equal(t, []string{"read", "write"}, got.Scopes)
	require.Equal(t, domain.ClientActive, got.Status)
	require.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = repo.GetClientByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.UpdateClientStatus(ctx, c.ID, domain.ClientLocked, Now()))
	got, err = repo.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ClientLocked, got.Status)
	require.ErrorIs(t, repo.UpdateClientStatus(ctx, "missing", domain.ClientLocked, Now()), store.ErrNotFound)

	got.Scopes = []string{"read"}
	got.Name = "renamed"
	got.SecretHash = ""
	got.UpdatedAt = Now()
	require.NoError(t, repo.UpdateClient(ctx, got))
	got, err = repo.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, got.Scopes)
	require.Equal(t, "renamed", got.Name)
	require.Empty(t, got.SecretHash)
	require.ErrorIs(t, repo.UpdateClient(ctx, Client()), store.ErrNotFound)

	noScopes := Client()
	require.NoError(t, repo.CreateClient(ctx, noScopes))
	got, err = repo.GetClientByID(ctx, noScopes.ID)
	require.NoError(t, err)
	require.Empty(t, got.Scopes)

	all, err := repo.ListClients(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, c := range all {
		ids = append(ids, c.ID)
	}
	require.Contains(t, ids, c.ID)
	require.Contains(t, ids, noScopes.ID)

	require.NoError(t, repo.DeleteClient(ctx, noScopes.ID))
	_, err = repo.GetClientByID(ctx, noScopes.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, repo.DeleteClient(ctx, noScopes.ID), store.ErrNotFound)
}

// RunRefreshTokens exercises a RefreshTokens repository. clientID must
// already exist for drivers that enforce foreign keys.
func RunRefreshTokens(t *testing.T, repo store.RefreshTokens, clientID string) {
	ctx := context.Background()
	now := Now()

	t.Run("create and get", func(t *testing.T) {
		rt := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, rt))

		got, err := repo.GetRefreshTokenByHash(ctx, rt.TokenHash)
		require.NoError(t, err)
		require.Equal(t, rt.ID, got.ID)
		require.Equal(t, "alice", got.Subject)
		require.Equal(t, clientID, got.ClientID)
		require.Equal(t, rt.SessionID, got.SessionID)
		require.Equal(t, []string{"ROLE_USER"}, got.Authorities)
		require.Equal(t, []string{"read", "write"}, got.Scopes)
		require.False(t, got.Revoked)
		require.Empty(t, got.Value, "stores never return the raw token")
		require.WithinDuration(t, rt.ExpiresAt, got.ExpiresAt, time.Millisecond)

		_, err = repo.GetRefreshTokenByHash(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate hash is rejected", func(t *testing.T) {
		rt := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, rt))

		dup := RefreshToken("mallory", clientID, now.Add(time.Hour))
		dup.TokenHash = rt.TokenHash
		err := repo.CreateRefreshToken(ctx, dup)
		require.True(t, errors.Is(err, store.ErrAlreadyExists), "got %v", err)

		got, err := repo.GetRefreshTokenByHash(ctx, rt.TokenHash)
		require.NoError(t, err)
		require.Equal(t, "alice", got.Subject)
	})

	t.Run("revoke", func(t *testing.T) {
		rt := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, rt))

		require.NoError(t, repo.RevokeRefreshToken(ctx, rt.TokenHash, Now()))
		require.NoError(t, repo.RevokeRefreshToken(ctx, rt.TokenHash, Now()))
		got, err := repo.GetRefreshTokenByHash(ctx, rt.TokenHash)
		require.NoError(t, err)
		require.True(t, got.Revoked)

		require.ErrorIs(t, repo.RevokeRefreshToken(ctx, "missing", Now()), store.ErrNotFound)
	})

	t.Run("consume", func(t *testing.T) {
		rt := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, rt))

		require.NoError(t, repo.ConsumeRefreshToken(ctx, rt.TokenHash, Now()))
		require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, rt.TokenHash, Now()), store.ErrConsumed)
		got, err := repo.GetRefreshTokenByHash(ctx, rt.TokenHash)
		require.NoError(t, err)
		require.True(t, got.Revoked)

		stale := RefreshToken("alice", clientID, now.Add(time.Minute))
		require.NoError(t, repo.CreateRefreshToken(ctx, stale))
		require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, stale.TokenHash, now.Add(2*time.Minute)), store.ErrConsumed)

		require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, "missing", Now()), store.ErrNotFound)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		rt := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, rt))

		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Go(func() { errs[i] = repo.ConsumeRefreshToken(ctx, rt.TokenHash, Now()) })
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			require.ErrorIs(t, err, store.ErrConsumed)
		}
		require.Equal(t, 1, won)
	})

	t.Run("revoke all for subject", func(t *testing.T) {
		subject := "bulk-" + idx.New().String()
		a := RefreshToken(subject, clientID, now.Add(time.Hour))
		b := RefreshToken(subject, clientID, now.Add(time.Hour))
		other := RefreshToken("someone-else", clientID, now.Add(time.Hour))
		for _, rt := range []domain.RefreshToken{a, b, other} {
			require.NoError(t, repo.CreateRefreshToken(ctx, rt))
		}

		n, err := repo.RevokeRefreshTokens(ctx, subject, clientID, Now())
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		n, err = repo.RevokeRefreshTokens(ctx, subject, clientID, Now())
		require.NoError(t, err)
		require.Zero(t, n)

		got, err := repo.GetRefreshTokenByHash(ctx, other.TokenHash)
		require.NoError(t, err)
		require.False(t, got.Revoked)
	})

	t.Run("delete expired", func(t *testing.T) {
		expired := RefreshToken("alice", clientID, now.Add(-time.Hour))
		live := RefreshToken("alice", clientID, now.Add(time.Hour))
		require.NoError(t, repo.CreateRefreshToken(ctx, expired))
		require.NoError(t, repo.CreateRefreshToken(ctx, live))

		n, err := repo.DeleteExpiredRefreshTokens(ctx, now)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(1))

		_, err = repo.GetRefreshTokenByHash(ctx, expired.TokenHash)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetRefreshTokenByHash(ctx, live.TokenHash)
		require.NoError(t, err)
	})
}

func testSigningKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	repo := s.SigningKeys()
	now := Now()

	active := domain.SigningKey{Kid: "kid-" + idx.New().String(), Algorithm: "EdDSA", SealedKey: []byte{1, 2, 3}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	graced := domain.SigningKey{Kid: "kid-" + idx.New().String(), Algorithm: "EdDSA", SealedKey: []byte{4, 5, 6}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	gone := domain.SigningKey{Kid: "kid-" + idx.New().String(), Algorithm: "ES256", SealedKey: []byte{7}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	for _, k := range []domain.SigningKey{active, graced, gone} {
		require.NoError(t, repo.CreateSigningKey(ctx, k))
	}
	require.ErrorIs(t, repo.CreateSigningKey(ctx, active), store.ErrAlreadyExists)

	require.NoError(t, repo.RetireSigningKey(ctx, graced.Kid, now, now.Add(time.Hour)))
	require.NoError(t, repo.RetireSigningKey(ctx, gone.Kid, now.Add(-2*time.Hour), now.Add(-time.Hour)))
	require.ErrorIs(t, repo.RetireSigningKey(ctx, "missing", now, now), store.ErrNotFound)

	keys, err := repo.ListSigningKeys(ctx, now)
	require.NoError(t, err)
	byKid := make(map[string]domain.SigningKey)
	for _, k := range keys {
		byKid[k.Kid] = k
	}
	require.Contains(t, byKid, active.Kid)
	require.Contains(t, byKid, graced.Kid)
	require.NotContains(t, byKid, gone.Kid)
	require.Nil(t, byKid[active.Kid].RetiredAt)
	require.NotNil(t, byKid[graced.Kid].RetiredAt)
	require.Equal(t, []byte{1, 2, 3}, byKid[active.Kid].SealedKey)

	// Active keys survive even past their nominal expiry.
	n, err := repo.DeleteExpiredSigningKeys(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	keys, err = repo.ListSigningKeys(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	found := false
	for _, k := range keys {
		require.Nil(t, k.RetiredAt)
		found = found || k.Kid == active.Kid
	}
	require.True(t, found)
}

func testTx(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	rolledBack := Client("read")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Clients().CreateClient(ctx, rolledBack))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = s.Clients().GetClientByID(ctx, rolledBack.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	committed := Client("read")
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Clients().CreateClient(ctx, committed)
	}))
	_, err = s.Clients().GetClientByID(ctx, committed.ID)
	require.NoError(t, err)
}
