package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
)

// RedisBackend is a Backend backed by a Redis server. TTL is enforced by
// Redis itself through SET ... EX.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses url, connects and verifies the server with PING.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeCacheBackendFailure, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(err, errs.CodeCacheBackendFailure, "cache: ping redis",
			errs.Field("addr", opts.Addr))
	}
	return &RedisBackend{client: client}, nil
}

// Get returns the value under key. Connection errors read as a miss.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.swallow(ctx, "get", key, err)
		return nil, false
	}
	return v, true
}

// Set writes value with an absolute expiry. Redis rejects a zero EX, so a
// non-positive ttl removes the key instead, which is what an already-expired
// entry looks like to readers.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			r.swallow(ctx, "set", key, err)
			return false
		}
		return true
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.swallow(ctx, "set", key, err)
		return false
	}
	return true
}

// Delete removes key and reports whether it existed.
func (r *RedisBackend) Delete(ctx context.Context, key string) bool {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		r.swallow(ctx, "delete", key, err)
		return false
	}
	return n > 0
}

// Exists reports whether key is present.
func (r *RedisBackend) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.swallow(ctx, "exists", key, err)
		return false
	}
	return n > 0
}

// Ping checks the server is reachable.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errs.Wrap(err, errs.CodeCacheBackendFailure, "cache: ping redis")
	}
	return nil
}

// Name returns BackendRedis.
func (r *RedisBackend) Name() string { return BackendRedis }

// Close closes the underlying client.
func (r *RedisBackend) Close() error { return r.client.Close() }

func (r *RedisBackend) swallow(ctx context.Context, op, key string, err error) {
	logging.FromContext(ctx).Warn("cache: redis operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", errs.Wrap(err, errs.CodeCacheBackendFailure, "redis "+op)),
	)
}
