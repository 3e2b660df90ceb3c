package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/redis"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/storetest"
	"github.com/aussiebroadwan/issuer/internal/testenv"
	"github.com/aussiebroadwan/issuer/pkg/idx"
)

func TestRefreshTokens(t *testing.T) {
	svc := testenv.Redis(t)

	repo, err := redis.Dial(context.Background(), svc.Addr(), "", 0, redis.WithPrefix("test-"+idx.New().String()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	storetest.RunRefreshTokens(t, repo, "app1")
}

func TestRefreshTokens_KeyTTLFollowsExpiry(t *testing.T) {
	svc := testenv.Redis(t)
	ctx := context.Background()

	rdb := goredis.NewClient(&goredis.Options{Addr: svc.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := redis.New(rdb, redis.WithPrefix("ttl"))
	rt := storetest.RefreshToken("alice", "app1", time.Now().Add(10*time.Minute))
	require.NoError(t, repo.CreateRefreshToken(ctx, rt))

	ttl, err := rdb.TTL(ctx, "ttl:token:"+rt.TokenHash).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 9*time.Minute)
	require.LessOrEqual(t, ttl, 10*time.Minute)

	require.NoError(t, repo.RevokeRefreshToken(ctx, rt.TokenHash, time.Now()))
	ttl, err = rdb.TTL(ctx, "ttl:token:"+rt.TokenHash).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 9*time.Minute, "revocation keeps the TTL")
}
