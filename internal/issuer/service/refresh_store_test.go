package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/sqlite"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/storetest"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
)

// memTokens is an in-process refresh token backend standing in for Redis
// or MongoDB. With gate set, every read parks until the gate closes.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken

	arrived chan struct{}
	gate    chan struct{}
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]domain.RefreshToken)}
}

func (m *memTokens) CreateRefreshToken(_ context.Context, t domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.TokenHash]; ok {
		return store.ErrAlreadyExists
	}
	t.Value = ""
	m.tokens[t.TokenHash] = t
	return nil
}

func (m *memTokens) GetRefreshTokenByHash(_ context.Context, hash string) (domain.RefreshToken, error) {
	if m.gate != nil {
		m.arrived <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memTokens) RevokeRefreshToken(_ context.Context, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return store.ErrNotFound
	}
	if !t.Revoked {
		t.Revoked, t.UpdatedAt = true, now
		m.tokens[hash] = t
	}
	return nil
}

func (m *memTokens) ConsumeRefreshToken(_ context.Context, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return store.ErrNotFound
	}
	if !t.Usable(now) {
		return store.ErrConsumed
	}
	t.Revoked, t.UpdatedAt = true, now
	m.tokens[hash] = t
	return nil
}

func (m *memTokens) RevokeRefreshTokens(_ context.Context, subject, clientID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if t.Subject == subject && t.ClientID == clientID && !t.Revoked {
			t.Revoked, t.UpdatedAt = true, now
			m.tokens[h] = t
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if t.ExpiresAt.Before(now) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

type composedFixture struct {
	*fixture
	tokens    *memTokens
	generator *Generator
	refresher *Refresher
}

// newComposedFixture wires the services over a file-backed SQL store whose
// refresh tokens live in memTokens.
func newComposedFixture(t *testing.T) *composedFixture {
	t.Helper()
	f := newFixture(t)

	base, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "issuer.db") + "?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	require.NoError(t, base.ApplyMigrations())
	c := storetest.Client("read", "write")
	c.ID = "app1"
	require.NoError(t, base.Clients().CreateClient(context.Background(), c))

	tokens := newMemTokens()
	s := store.WithRefreshTokens(base, tokens)

	registry := NewRegistry(s.Clients())
	issuer := NewIssuer(f.keys, s.RefreshTokens(), IssuerConfig{
		Issuer:     testIssuer,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}, WithClock(f.clock))

	return &composedFixture{
		fixture:   f,
		tokens:    tokens,
		generator: NewGenerator(registry, f.builder, issuer),
		refresher: NewRefresher(s, registry, f.builder, issuer, f.clock, nil),
	}
}

func TestRefreshExchangeWithSeparateTokenStore(t *testing.T) {
	f := newComposedFixture(t)
	ctx := context.Background()

	first, err := f.generator.Generate(ctx, alice, "app1")
	require.NoError(t, err)
	require.Len(t, f.tokens.tokens, 1)

	second, err := f.refresher.Exchange(ctx, "app1", first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "read write", second.Scope)
	require.Len(t, f.tokens.tokens, 2)

	old := f.tokens.tokens[cryptox.FingerprintToken(first.RefreshToken)]
	require.True(t, old.Revoked)

	_, err = f.refresher.Exchange(ctx, "app1", first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidGrant)

	require.NoError(t, f.refresher.Revoke(ctx, second.RefreshToken))
	_, err = f.refresher.Exchange(ctx, "app1", second.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshExchangeConcurrentSingleWinner(t *testing.T) {
	f := newComposedFixture(t)
	ctx := context.Background()

	resp, err := f.generator.Generate(ctx, alice, "app1")
	require.NoError(t, err)

	// Both exchanges read the live token before either consumes it.
	f.tokens.arrived = make(chan struct{}, 2)
	f.tokens.gate = make(chan struct{})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = f.refresher.Exchange(ctx, "app1", resp.RefreshToken)
		})
	}
	for range errs {
		select {
		case <-f.tokens.arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("exchanges did not reach the token read")
		}
	}
	close(f.tokens.gate)
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidGrant)
	}
	require.Equal(t, 1, won)

	live := 0
	for _, tok := range f.tokens.tokens {
		if !tok.Revoked {
			live++
		}
	}
	require.Equal(t, 1, live, "one refresh token cannot fork into two sessions")
}
