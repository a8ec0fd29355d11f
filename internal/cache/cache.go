// Package cache provides an expiring key-value service with two backends: a
// shared Redis backend and an in-process fallback. The backend is chosen once
// by [New] and callers see the same method set either way.
//
// Backend failures are never returned to callers. A failed read is a miss and
// a failed write reports false, so the operation the cache supports keeps
// working when the cache does not.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
)

// DefaultTTLHours is applied when Config.DefaultTTLHours is zero.
const DefaultTTLHours = 24

// Backend names reported by [Service.Backend].
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Backend is the raw storage capability behind a Service. Values are opaque
// bytes; ttl <= 0 stores an entry that is already expired.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Name() string
	Close() error
}

// Entry is one memoized result as stored in a backend.
type Entry struct {
	// Value is the caller's payload, JSON-encoded.
	Value json.RawMessage `json:"value"`
	// CreatedAt is when the payload was produced.
	CreatedAt time.Time `json:"created_at"`
	// CachedAt is when the entry was written to the cache.
	CachedAt time.Time `json:"cached_at"`
}

// Decode unmarshals the entry payload into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}

// Config controls backend selection.
type Config struct {
	// RedisURL is a redis:// or rediss:// URL. Empty selects the in-process backend.
	RedisURL string
	// DefaultTTLHours applies to Set calls without an explicit TTL.
	DefaultTTLHours int
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Service is the backend-agnostic cache used by the rest of the module.
type Service struct {
	backend    Backend
	defaultTTL int
	now        func() time.Time
	// fallbackErr records why the shared backend was not used.
	fallbackErr error
}

// New selects a backend once. When cfg.RedisURL is set it tries Redis and
// falls back to the in-process backend on any initialisation failure. The
// fallback is not logged here; callers inspect FallbackReason.
func New(ctx context.Context, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.DefaultTTLHours
	if ttl <= 0 {
		ttl = DefaultTTLHours
	}

	s := &Service{defaultTTL: ttl, now: now}
	if cfg.RedisURL != "" {
		rb, err := NewRedisBackend(ctx, cfg.RedisURL)
		if err == nil {
			s.backend = rb
			return s
		}
		s.fallbackErr = err
	}
	s.backend = NewMemoryBackend(now)
	return s
}

// NewWithBackend wraps an already constructed backend.
func NewWithBackend(b Backend, defaultTTLHours int) *Service {
	if defaultTTLHours <= 0 {
		defaultTTLHours = DefaultTTLHours
	}
	return &Service{backend: b, defaultTTL: defaultTTLHours, now: time.Now}
}

// Backend returns the name of the selected backend.
func (s *Service) Backend() string { return s.backend.Name() }

// FallbackReason returns the error that forced the in-process fallback, or
// nil when the configured backend was used.
func (s *Service) FallbackReason() error { return s.fallbackErr }

// DefaultTTLHours returns the TTL applied by Set.
func (s *Service) DefaultTTLHours() int { return s.defaultTTL }

// Get returns the entry for key. Expired, missing and undecodable entries
// are all reported as absent.
func (s *Service) Get(ctx context.Context, key string) (Entry, bool) {
	raw, ok := s.backend.Get(ctx, key)
	if !ok {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logging.FromContext(ctx).Warn("cache: discarding undecodable entry",
			slog.String("key", key),
			slog.Any("error", errs.Wrap(err, errs.CodeCacheBackendFailure, "decode entry")),
		)
		return Entry{}, false
	}
	return e, true
}

// Set stores value under key with the default TTL.
func (s *Service) Set(ctx context.Context, key string, value any) bool {
	return s.SetWithTTL(ctx, key, value, s.defaultTTL)
}

// SetWithTTL stores value under key for ttlHours. A ttlHours of zero or less
// writes an entry that is already expired; very large values are clamped to
// the longest TTL a time.Duration can hold.
func (s *Service) SetWithTTL(ctx context.Context, key string, value any, ttlHours int) bool {
	now := s.now()
	return s.put(ctx, key, value, now, ttlHours)
}

// SetCreated is SetWithTTL with an explicit creation time for the payload.
func (s *Service) SetCreated(ctx context.Context, key string, value any, createdAt time.Time, ttlHours int) bool {
	return s.put(ctx, key, value, createdAt, ttlHours)
}

func (s *Service) put(ctx context.Context, key string, value any, createdAt time.Time, ttlHours int) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		logging.FromContext(ctx).Warn("cache: value not encodable",
			slog.String("key", key),
			slog.Any("error", errs.Wrap(err, errs.CodeCacheBackendFailure, "encode value")),
		)
		return false
	}
	raw, err := json.Marshal(Entry{Value: payload, CreatedAt: createdAt, CachedAt: s.now()})
	if err != nil {
		return false
	}
	return s.backend.Set(ctx, key, raw, ttlDuration(ttlHours))
}

// maxTTLHours is the longest TTL a time.Duration can hold.
const maxTTLHours = math.MaxInt64 / int64(time.Hour)

// ttlDuration converts hours to a duration, clamping values that would
// overflow to the longest representable TTL.
func ttlDuration(hours int) time.Duration {
	if int64(hours) > maxTTLHours {
		return time.Duration(maxTTLHours) * time.Hour
	}
	return time.Duration(hours) * time.Hour
}

// Delete removes key and reports whether something was removed.
func (s *Service) Delete(ctx context.Context, key string) bool {
	return s.backend.Delete(ctx, key)
}

// Exists reports whether a non-expired entry is stored under key.
func (s *Service) Exists(ctx context.Context, key string) bool {
	return s.backend.Exists(ctx, key)
}

// Ping reports shared backend reachability. The in-process backend is
// always reachable.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases backend resources.
func (s *Service) Close() error { return s.backend.Close() }
