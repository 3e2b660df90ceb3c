package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/cache"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

// DefaultRegistryCacheTTL bounds how long an admin change can take to reach
// other instances sharing the cache.
const DefaultRegistryCacheTTL = time.Minute

// Registry resolves clients from the store through an optional cache.
type Registry struct {
	clients store.Clients
	cache   cache.Cache
	ttl     time.Duration
	hasher  *cryptox.SecretHasher
	metrics *Metrics
	group   singleflight.Group
}

type RegistryOption func(*Registry)

// WithCache caches resolved clients for ttl.
func WithCache(c cache.Cache, ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithSecretHasher enables Authenticate for confidential clients.
func WithSecretHasher(h *cryptox.SecretHasher) RegistryOption {
	return func(r *Registry) { r.hasher = h }
}

func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(clients store.Clients, opts ...RegistryOption) *Registry {
	r := &Registry{clients: clients, ttl: DefaultRegistryCacheTTL}
	for _, o := range opts {
		o(r)
	}
	if r.ttl <= 0 {
		r.ttl = DefaultRegistryCacheTTL
	}
	return r
}

func cacheKey(clientID string) string { return "client:" + clientID }

// Resolve returns the client if it exists and is active. Inactive clients
// fail with ErrClientInvalid whatever the reason.
func (r *Registry) Resolve(ctx context.Context, clientID string) (domain.Client, error) {
	c, err := r.lookup(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if !c.Active() {
		return domain.Client{}, newError(KindClientInvalid, nil, "client %q is %s", clientID, c.Status)
	}
	return c, nil
}

// Authenticate resolves the client and, for confidential clients, checks
// secret against the stored hash. Public clients accept any secret.
func (r *Registry) Authenticate(ctx context.Context, clientID, secret string) (domain.Client, error) {
	c, err := r.Resolve(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if !c.Confidential() {
		return c, nil
	}
	if r.hasher == nil {
		return domain.Client{}, newError(KindClientInvalid, nil, "client %q cannot be authenticated", clientID)
	}
	if err := r.hasher.Verify(secret, c.SecretHash); err != nil {
		slogx.FromContext(ctx).Info("client authentication failed", slog.String("client_id", clientID))
		return domain.Client{}, newError(KindClientInvalid, nil, "client %q authentication failed", clientID)
	}
	return c, nil
}

// Invalidate drops a cached entry so the next Resolve reads the store.
func (r *Registry) Invalidate(ctx context.Context, clientID string) {
	if r == nil || r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cacheKey(clientID)); err != nil {
		slogx.FromContext(ctx).Warn("client cache invalidation failed",
			slog.String("client_id", clientID), slog.Any("error", err))
	}
}

func (r *Registry) lookup(ctx context.Context, clientID string) (domain.Client, error) {
	if c, ok := r.cached(ctx, clientID); ok {
		r.metrics.lookup("hit")
		return c, nil
	}
	r.metrics.lookup("miss")

	// The read is shared by every caller in the flight, so one caller
	// cancelling must not fail the rest.
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(clientID, func() (any, error) {
		c, err := r.clients.GetClientByID(shared, clientID)
		if err != nil {
			return domain.Client{}, err
		}
		r.store(shared, c)
		return c, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, newError(KindClientNotFound, nil, "client %q not found", clientID)
	}
	if err != nil {
		return domain.Client{}, newError(KindIssuanceFailed, err, "client lookup failed")
	}

	// Callers sharing a flight must not share the scope slice.
	c := v.(domain.Client)
	c.Scopes = slices.Clone(c.Scopes)
	return c, nil
}

func (r *Registry) cached(ctx context.Context, clientID string) (domain.Client, bool) {
	if r.cache == nil {
		return domain.Client{}, false
	}

	b, err := r.cache.Get(ctx, cacheKey(clientID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slogx.FromContext(ctx).Warn("client cache read failed",
				slog.String("client_id", clientID), slog.Any("error", err))
		}
		return domain.Client{}, false
	}

	var c domain.Client
	if err := json.Unmarshal(b, &c); err != nil {
		slogx.FromContext(ctx).Warn("client cache entry corrupt", slog.String("client_id", clientID))
		return domain.Client{}, false
	}
	return c, true
}

func (r *Registry) store(ctx context.Context, c domain.Client) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(c.ID), b, r.ttl); err != nil {
		slogx.FromContext(ctx).Warn("client cache write failed",
			slog.String("client_id", c.ID), slog.Any("error", err))
	}
}
