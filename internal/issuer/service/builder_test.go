package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

func TestBuilderGrantsFullScopeSet(t *testing.T) {
	t.Parallel()

	client := domain.Client{ID: "app1", Scopes: []string{"read", "write", "read", " admin "}, Status: domain.ClientActive}
	authz, err := NewBuilder().Build(alice, client)
	require.NoError(t, err)

	require.Equal(t, []string{"read", "write", "admin"}, authz.GrantedScopes)
	require.Equal(t, domain.GrantPassword, authz.GrantType)
	require.Equal(t, "alice", authz.Principal.Subject)
	require.Equal(t, []string{"ROLE_USER"}, authz.Principal.Authorities)
	require.Equal(t, "app1", authz.Client.ID)
	require.Empty(t, authz.SessionID)
}

func TestBuilderIsPure(t *testing.T) {
	t.Parallel()

	client := domain.Client{ID: "app1", Scopes: []string{"write", "read"}}
	principal := domain.Principal{Subject: " bob ", Authorities: []string{"ROLE_ADMIN", "ROLE_USER"}}

	b := NewBuilder()
	first, err := b.Build(principal, client)
	require.NoError(t, err)
	second, err := b.Build(principal, client)
	require.NoError(t, err)
	require.Equal(t, first, second)

	first.GrantedScopes[0] = "mutated"
	require.Equal(t, []string{"write", "read"}, client.Scopes, "input scopes untouched")
	require.Equal(t, " bob ", principal.Subject)
	require.Equal(t, "bob", second.Principal.Subject)
}

func TestBuilderRejectsInvalidPrincipal(t *testing.T) {
	t.Parallel()

	client := domain.Client{ID: "app1", Scopes: []string{"read"}}
	cases := map[string]domain.Principal{
		"no authorities":    {Subject: "alice"},
		"blank authorities": {Subject: "alice", Authorities: []string{" ", ""}},
		"no subject":        {Authorities: []string{"ROLE_USER"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewBuilder().Build(p, client)
			require.ErrorIs(t, err, ErrInvalidPrincipal)
		})
	}
}

func TestBuilderClientWithoutScopes(t *testing.T) {
	authz, err := NewBuilder().Build(alice, domain.Client{ID: "bare"})
	require.NoError(t, err)
	require.Empty(t, authz.GrantedScopes)
}
