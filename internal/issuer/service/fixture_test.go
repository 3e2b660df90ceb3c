package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/sqlite"
	"github.com/aussiebroadwan/issuer/pkg/cache"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

const testIssuer = "https://issuer.test"

var (
	testStart  = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
	alice      = domain.Principal{Subject: "alice", Authorities: []string{"ROLE_USER"}}
)

type fixture struct {
	store     *sqlite.Store
	clock     *clock.Manual
	keys      *jwtx.KeyManager
	metrics   *Metrics
	hasher    *cryptox.SecretHasher
	cache     *cache.Memory
	registry  *Registry
	builder   *Builder
	issuer    *Issuer
	generator *Generator
	validator *Validator
	refresher *Refresher
	clients   *ClientService
}

func newFixture(t *testing.T, issuerOpts ...IssuerOption) *fixture {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	f := &fixture{store: s, clock: clock.NewManual(testStart)}

	f.keys, err = jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    testIssuer,
		NumKeys:   1,
		Now:       f.clock.Now,
	})
	require.NoError(t, err)

	f.metrics, err = NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f.hasher = cryptox.NewSecretHasher("pepper")
	f.cache = cache.NewMemory(time.Minute)
	f.registry = NewRegistry(s.Clients(),
		WithCache(f.cache, time.Minute),
		WithSecretHasher(f.hasher),
		WithRegistryMetrics(f.metrics),
	)
	f.builder = NewBuilder()

	opts := append([]IssuerOption{WithClock(f.clock), WithIssuerMetrics(f.metrics)}, issuerOpts...)
	f.issuer = NewIssuer(f.keys, s.RefreshTokens(), IssuerConfig{
		Issuer:     testIssuer,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}, opts...)

	f.generator = NewGenerator(f.registry, f.builder, f.issuer, WithGeneratorMetrics(f.metrics))
	f.validator = NewValidator(f.keys.Verifier())
	f.refresher = NewRefresher(s, f.registry, f.builder, f.issuer, f.clock, f.metrics)
	f.clients = NewClientService(s, f.registry, f.hasher, f.clock)

	f.seed(t, "app1", domain.ClientActive, "read", "write")
	f.seed(t, "app2", domain.ClientLocked, "read")
	f.seed(t, "app3", domain.ClientExpired, "read")
	f.seed(t, "app4", domain.ClientDisabled, "read")
	f.seed(t, "other", domain.ClientActive, "read")
	return f
}

func (f *fixture) seed(t *testing.T, id string, status domain.ClientStatus, scopes ...string) {
	t.Helper()
	require.NoError(t, f.store.Clients().CreateClient(context.Background(), domain.Client{
		ID:        id,
		Name:      id,
		Scopes:    scopes,
		Status:    status,
		CreatedAt: testStart,
		UpdatedAt: testStart,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
