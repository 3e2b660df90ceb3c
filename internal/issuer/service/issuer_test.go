package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

// collidingTokens rejects the first n inserts as duplicates.
type collidingTokens struct {
	store.RefreshTokens

	mu       sync.Mutex
	n        int
	attempts int
	stored   []domain.RefreshToken
}

func (c *collidingTokens) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.n {
		return store.ErrAlreadyExists
	}
	c.stored = append(c.stored, t)
	return nil
}

type failingTokens struct {
	store.RefreshTokens
	err error
}

func (f failingTokens) CreateRefreshToken(context.Context, domain.RefreshToken) error { return f.err }

type brokenKeys struct{ err error }

func (b brokenKeys) Signer() (jwtx.Signer, error) { return nil, b.err }

type brokenSigner struct{ jwtx.Signer }

func (brokenSigner) KID() string                     { return "broken" }
func (brokenSigner) Sign(jwtx.Claims) (string, error) { return "", errors.New("hsm unplugged") }

type brokenSignerKeys struct{}

func (brokenSignerKeys) Signer() (jwtx.Signer, error) { return brokenSigner{}, nil }

func authzFor(t *testing.T, f *fixture, clientID string) domain.AuthorizationContext {
	t.Helper()
	c, err := f.registry.Resolve(context.Background(), clientID)
	require.NoError(t, err)
	authz, err := f.builder.Build(alice, c)
	require.NoError(t, err)
	return authz
}

func TestIssueRetriesOneCollision(t *testing.T) {
	f := newFixture(t)
	tokens := &collidingTokens{n: 1}
	iss := NewIssuer(f.keys, tokens, IssuerConfig{Issuer: testIssuer}, WithClock(f.clock), WithIssuerMetrics(f.metrics))

	access, refresh, err := iss.Issue(context.Background(), authzFor(t, f, "app1"))
	require.NoError(t, err)
	require.NotEmpty(t, access.Value)
	require.NotEmpty(t, refresh.Value)
	require.Equal(t, 2, tokens.attempts)
	require.Len(t, tokens.stored, 1)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Collisions), 0)
}

func TestIssueFailsOnSecondCollision(t *testing.T) {
	f := newFixture(t)
	tokens := &collidingTokens{n: 2}
	iss := NewIssuer(f.keys, tokens, IssuerConfig{Issuer: testIssuer}, WithClock(f.clock), WithIssuerMetrics(f.metrics))

	access, refresh, err := iss.Issue(context.Background(), authzFor(t, f, "app1"))
	require.ErrorIs(t, err, ErrIssuanceFailed)
	require.ErrorIs(t, err, ErrTokenCollision)
	require.Equal(t, KindIssuanceFailed, KindOf(err))
	require.Zero(t, access)
	require.Zero(t, refresh)
	require.Equal(t, 2, tokens.attempts)
	require.InDelta(t, 2, testutil.ToFloat64(f.metrics.Collisions), 0)
}

func TestIssueCollisionAgainstStore(t *testing.T) {
	// A generator stuck on one value collides with the row it wrote first.
	f := newFixture(t, WithTokenGenerator(func() (string, error) { return "same-every-time", nil }))
	ctx := context.Background()

	_, first, err := f.issuer.Issue(ctx, authzFor(t, f, "app1"))
	require.NoError(t, err)
	require.Equal(t, "same-every-time", first.Value)

	_, _, err = f.issuer.Issue(ctx, authzFor(t, f, "app1"))
	require.ErrorIs(t, err, ErrIssuanceFailed)
	require.ErrorIs(t, err, ErrTokenCollision)

	stored, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, first.TokenHash)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.ID, "original record untouched")
}

func TestIssueStoreFailure(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("database is locked")
	iss := NewIssuer(f.keys, failingTokens{err: cause}, IssuerConfig{Issuer: testIssuer}, WithClock(f.clock))

	_, _, err := iss.Issue(context.Background(), authzFor(t, f, "app1"))
	require.ErrorIs(t, err, ErrIssuanceFailed)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrTokenCollision)
}

func TestIssueSigningError(t *testing.T) {
	f := newFixture(t)

	cases := map[string]SignerSource{
		"no key":      brokenKeys{err: jwtx.ErrNoSigner},
		"sign failed": brokenSignerKeys{},
	}
	for name, keys := range cases {
		t.Run(name, func(t *testing.T) {
			tokens := &collidingTokens{}
			iss := NewIssuer(keys, tokens, IssuerConfig{Issuer: testIssuer}, WithClock(f.clock))

			access, refresh, err := iss.Issue(context.Background(), authzFor(t, f, "app1"))
			require.ErrorIs(t, err, ErrSigning)
			require.Zero(t, access)
			require.Zero(t, refresh)
			require.Zero(t, tokens.attempts, "no refresh token persisted")
		})
	}
}

func TestIssueKeepsSessionID(t *testing.T) {
	f := newFixture(t)
	authz := authzFor(t, f, "app1")
	authz.SessionID = "01JSESSION"

	access, refresh, err := f.issuer.Issue(context.Background(), authz)
	require.NoError(t, err)
	require.Equal(t, "01JSESSION", refresh.SessionID)

	claims, err := f.validator.Validate(context.Background(), access.Value)
	require.NoError(t, err)
	require.Equal(t, "01JSESSION", claims.SID)
}

func TestIssueConcurrent(t *testing.T) {
	f := newFixture(t)
	authz := authzFor(t, f, "app1")

	const n = 16
	values := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			_, rt, err := f.issuer.Issue(context.Background(), authz)
			if err == nil {
				values[i] = rt.Value
			}
		})
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, v := range values {
		require.NotEmpty(t, v)
		require.False(t, seen[v])
		seen[v] = true
	}
}

func TestIssueRejectsInactiveClient(t *testing.T) {
	f := newFixture(t)
	tokens := &collidingTokens{}
	iss := NewIssuer(f.keys, tokens, IssuerConfig{Issuer: testIssuer}, WithClock(f.clock))

	for _, status := range []domain.ClientStatus{domain.ClientLocked, domain.ClientExpired, domain.ClientDisabled} {
		authz := authzFor(t, f, "app1")
		authz.Client.Status = status

		access, refresh, err := iss.Issue(context.Background(), authz)
		require.ErrorIs(t, err, ErrClientInvalid, status)
		require.Zero(t, access)
		require.Zero(t, refresh)
	}
	require.Zero(t, tokens.attempts)
}
