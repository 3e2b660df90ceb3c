package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseClientStatus(t *testing.T) {
	for _, s := range []string{"active", "locked", "expired", "disabled"} {
		st, err := ParseClientStatus(s)
		require.NoError(t, err)
		require.Equal(t, ClientStatus(s), st)
	}
	_, err := ParseClientStatus("Active")
	require.Error(t, err)
}

func TestClientPredicates(t *testing.T) {
	c := Client{ID: "app1", Scopes: []string{"read", "write"}, Status: ClientActive}
	require.True(t, c.Active())
	require.False(t, c.Confidential())
	require.True(t, c.AllowsScope("read"))
	require.False(t, c.AllowsScope("admin"))

	c.Status = ClientLocked
	c.SecretHash = "$argon2id$..."
	require.False(t, c.Active())
	require.True(t, c.Confidential())
}

func TestRefreshTokenUsable(t *testing.T) {
	now := time.Now()
	rt := RefreshToken{ExpiresAt: now.Add(time.Hour)}
	require.True(t, rt.Usable(now))
	require.False(t, rt.Usable(now.Add(time.Hour)))

	rt.Revoked = true
	require.False(t, rt.Usable(now))
}

func TestNewTokenResponse(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := NewTokenResponse(
		AccessToken{Value: "jwt", ExpiresAt: now.Add(15 * time.Minute), Scopes: []string{"read", "write"}},
		RefreshToken{Value: "opaque"},
		now,
	)
	require.Equal(t, TokenResponse{
		AccessToken:  "jwt",
		TokenType:    "Bearer",
		ExpiresIn:    900,
		RefreshToken: "opaque",
		Scope:        "read write",
	}, resp)

	late := NewTokenResponse(AccessToken{ExpiresAt: now}, RefreshToken{}, now.Add(time.Minute))
	require.Zero(t, late.ExpiresIn)
}
