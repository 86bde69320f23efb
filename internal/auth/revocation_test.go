package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryRevoke(t *testing.T) {
	ctx := context.Background()
	var observed int
	reg := NewMemoryRegistry(func(n int) { observed = n })

	revoked, err := reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, reg.Revoke(ctx, "token-a", time.Now().Add(time.Hour)))
	revoked, err = reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, revoked)
	require.Equal(t, 1, observed)

	revoked, err = reg.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestMemoryRegistryStartsEmpty(t *testing.T) {
	first := NewMemoryRegistry(nil)
	require.NoError(t, first.Revoke(context.Background(), "token-a", time.Time{}))

	restarted := NewMemoryRegistry(nil)
	revoked, err := restarted.IsRevoked(context.Background(), "token-a")
	require.NoError(t, err)
	require.False(t, revoked)
	require.Equal(t, 0, restarted.Len())
}

func TestMemoryRegistryCompact(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := NewMemoryRegistry(nil)
	require.NoError(t, reg.Revoke(ctx, "expired", now.Add(-time.Minute)))
	require.NoError(t, reg.Revoke(ctx, "live", now.Add(time.Hour)))
	require.NoError(t, reg.Revoke(ctx, "no-expiry", time.Time{}))

	require.Equal(t, 1, reg.Compact(now))
	require.Equal(t, 2, reg.Len())

	live, _ := reg.IsRevoked(ctx, "live")
	require.True(t, live)
	forever, _ := reg.IsRevoked(ctx, "no-expiry")
	require.True(t, forever)

	require.Equal(t, 0, reg.Compact(now), "compaction must be idempotent")
}

func TestMemoryRegistryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("token-%d", i)
			for j := 0; j < 100; j++ {
				_ = reg.Revoke(ctx, token, time.Now().Add(time.Hour))
				if ok, _ := reg.IsRevoked(ctx, token); !ok {
					t.Errorf("token %s not revoked after Revoke", token)
					return
				}
				reg.Compact(time.Now())
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 32, reg.Len())
}

func TestTokenDigestIsStable(t *testing.T) {
	require.Equal(t, TokenDigest("abc"), TokenDigest("abc"))
	require.NotEqual(t, TokenDigest("abc"), TokenDigest("abd"))
	require.Len(t, TokenDigest("abc"), 64)
}

func TestRedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	reg := NewRedisRegistry(client)
	require.NoError(t, reg.Ping(ctx))

	require.NoError(t, reg.Revoke(ctx, "token-a", time.Now().Add(time.Hour)))
	revoked, err := reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, revoked)
	require.True(t, mr.Exists(redisRevokedPrefix+TokenDigest("token-a")))

	// a second registry over the same server sees the revocation, as a restarted
	// process would
	again := NewRedisRegistry(client)
	revoked, err = again.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	require.False(t, revoked, "entry must expire with the token")
}

func TestRedisRegistrySkipsExpiredTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := NewRedisRegistry(client)
	require.NoError(t, reg.Revoke(context.Background(), "old", time.Now().Add(-time.Minute)))
	require.Empty(t, mr.Keys())
}

func TestRedisRegistryFailsClosedOnOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	reg := NewRedisRegistry(client)

	mr.Close()
	_, err := reg.IsRevoked(context.Background(), "token-a")
	require.Error(t, err)
}
