package service

import (
	"context"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

func TestGenerateActiveClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.generator.Generate(ctx, alice, "app1")
	require.NoError(t, err)

	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "read write", resp.Scope)
	require.EqualValues(t, accessTTL.Seconds(), resp.ExpiresIn)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	claims, err := f.validator.ValidateFor(ctx, resp.AccessToken, "app1")
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.Equal(t, testIssuer, claims.Issuer)
	require.Equal(t, "app1", claims.ClientID)
	require.Equal(t, []string{"read", "write"}, claims.Scopes)
	require.Equal(t, []string{"ROLE_USER"}, claims.Authorities)
	require.Equal(t, "password", claims.GrantType)
	require.NotEmpty(t, claims.SID)
	require.True(t, testStart.Add(accessTTL).Equal(claims.ExpiresAt.Time))

	stored, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(resp.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, "alice", stored.Subject)
	require.Equal(t, "app1", stored.ClientID)
	require.Equal(t, claims.SID, stored.SessionID)
	require.Equal(t, []string{"read", "write"}, stored.Scopes)
	require.True(t, testStart.Add(refreshTTL).Equal(stored.ExpiresAt))

	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Issuances.WithLabelValues("ok")), 0)
}

func TestGenerateInactiveClient(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"app2", "app3", "app4"} {
		t.Run(id, func(t *testing.T) {
			resp, err := f.generator.Generate(context.Background(), alice, id)
			require.ErrorIs(t, err, ErrClientInvalid)
			require.Equal(t, KindClientInvalid, KindOf(err))
			require.Zero(t, resp)
		})
	}
	require.InDelta(t, 3, testutil.ToFloat64(f.metrics.Issuances.WithLabelValues("client_invalid")), 0)
}

func TestGenerateUnknownClient(t *testing.T) {
	f := newFixture(t)

	resp, err := f.generator.Generate(context.Background(), alice, "nope")
	require.ErrorIs(t, err, ErrClientNotFound)
	require.Zero(t, resp)
}

func TestGenerateInvalidPrincipal(t *testing.T) {
	f := newFixture(t)

	resp, err := f.generator.Generate(context.Background(), domain.Principal{Subject: "alice"}, "app1")
	require.ErrorIs(t, err, ErrInvalidPrincipal)
	require.Zero(t, resp)
}

func TestGeneratedScopesAreSubsetOfClientScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	configured := map[string][]string{
		"c-single": {"read"},
		"c-dupes":  {"write", "read", "write"},
		"c-wide":   {"a", "b", "c", "d", "e"},
		"c-none":   nil,
	}
	for id, scopes := range configured {
		f.seed(t, id, domain.ClientActive, scopes...)
	}

	for id, scopes := range configured {
		resp, err := f.generator.Generate(ctx, alice, id)
		require.NoError(t, err, id)

		claims, err := f.validator.Validate(ctx, resp.AccessToken)
		require.NoError(t, err)
		for _, s := range claims.Scopes {
			require.True(t, slices.Contains(scopes, s), "%s: %q not configured", id, s)
		}
		require.ElementsMatch(t, slices.Compact(slices.Sorted(slices.Values(scopes))), claims.Scopes, id)
	}
}

func TestGenerateDistinctRefreshTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for range 20 {
		resp, err := f.generator.Generate(ctx, alice, "app1")
		require.NoError(t, err)
		require.NotContains(t, seen, resp.RefreshToken)
		seen[resp.RefreshToken] = struct{}{}
	}
}

func TestGeneratedAccessTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.generator.Generate(ctx, alice, "app1")
	require.NoError(t, err)

	_, err = f.validator.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(accessTTL - 1)
	_, err = f.validator.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(1)
	_, err = f.validator.Validate(ctx, resp.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestGenerateRecordsSpan(t *testing.T) {
	f := newFixture(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	g := NewGenerator(f.registry, f.builder, f.issuer, WithTracerProvider(tp))

	_, err := g.Generate(context.Background(), alice, "app1")
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), alice, "app2")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "issuer.Generate", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "client_invalid", spans[1].Status().Description)
}
