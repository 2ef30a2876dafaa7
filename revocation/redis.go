package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry is a Registry backed by redis, for multi-node deployments
// where a logout on one node must be visible to all. Redis expiry handles
// cleanup, so no sweeper is needed.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRegistry stores revocations under prefix. An empty prefix
// defaults to "arj".
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "arj"
	}
	return &RedisRegistry{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisRegistry) key(jti string) string {
	return r.prefix + ":" + jti
}

func (r *RedisRegistry) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(jti), "1", ttl).Err()
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
