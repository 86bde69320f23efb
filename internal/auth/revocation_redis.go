package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRevokedPrefix = "revoked:"

var _ RevocationRegistry = (*RedisRegistry)(nil)

// RedisRegistry keeps revocations in Redis so they survive process restarts.
// Keys expire together with the token they revoke.
type RedisRegistry struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

func (r *RedisRegistry) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(r.now())
		if ttl <= 0 {
			// already expired; validation rejects it without our help
			return nil
		}
	}
	if err := r.client.Set(ctx, redisRevokedPrefix+TokenDigest(token), expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, redisRevokedPrefix+TokenDigest(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity to the backing server.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
