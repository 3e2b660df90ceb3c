package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/issuer/internal/testenv"
	"github.com/aussiebroadwan/issuer/pkg/cache"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "client:app1", []byte(`{"id":"app1"}`), time.Minute))
	got, err := c.Get(ctx, "client:app1")
	require.NoError(t, err)
	require.Equal(t, `{"id":"app1"}`, string(got))

	require.NoError(t, c.Delete(ctx, "client:app1"))
	_, err = c.Get(ctx, "client:app1")
	require.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Delete(ctx, "never-set"))
	require.NoError(t, c.Ping(ctx))
}

func TestMemory(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	exerciseCache(t, c)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, "k")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(time.Minute)

	v := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", v, 0))
	v[0] = 'x'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := cache.New(context.Background(), cache.Config{Driver: "memcached"})
	require.Error(t, err)

	c, err := cache.New(context.Background(), cache.Config{})
	require.NoError(t, err)
	require.IsType(t, &cache.Memory{}, c)
}

func TestRedis(t *testing.T) {
	svc := testenv.Redis(t)

	c, err := cache.New(context.Background(), cache.Config{Driver: "redis", Addr: svc.Addr(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	exerciseCache(t, c)
}
