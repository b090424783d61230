package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "livegate:response:"

// Redis is a Responses implementation backed by Redis, for deployments
// that run several gateway instances against the same chat server. TTL
// enforcement is delegated to Redis key expiry, so Sweep is a no-op.
//
// The cache is an optimization: Redis errors degrade to cache misses and
// are logged at debug level, never surfaced to the pipeline.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed response cache.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// redisKey hashes the cache key: queries are user text and should not
// land verbatim in Redis keyspace listings.
func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return redisPrefix + hex.EncodeToString(sum[:])
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	text, err := r.client.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("redis cache get failed", "error", err)
		}
		return "", false
	}
	return text, true
}

func (r *Redis) Set(ctx context.Context, key, text string) error {
	if err := r.client.Set(ctx, redisKey(key), text, r.ttl).Err(); err != nil {
		slog.Debug("redis cache set failed", "error", err)
	}
	return nil
}

func (r *Redis) Sweep(ctx context.Context) int { return 0 }

func (r *Redis) Close() error { return r.client.Close() }
