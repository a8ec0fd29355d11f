// Package generation memoizes expensive, deterministic provider calls behind
// the cache. A Gate derives a key from the call's parameters, answers from
// the cache on a hit and only calls the provider on a miss.
package generation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/54b3r/ragcore-go/internal/cache"
	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
)

// Cache is the subset of cache.Service a Gate needs.
type Cache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool)
	SetCreated(ctx context.Context, key string, value any, createdAt time.Time, ttlHours int) bool
	DefaultTTLHours() int
}

// Result is a generated or memoized value.
type Result[T any] struct {
	// Value is the generated payload.
	Value T
	// CreatedAt is when the payload was generated, which for a cache hit
	// predates the current call.
	CreatedAt time.Time
	// FromCache is true unless this call ran generate itself. Callers that
	// waited on another caller's in-flight generation see true, so exactly
	// one caller per generation sees false.
	FromCache bool
}

// GenerateFunc produces a fresh value. It must be a pure function of the
// parameters passed to GetOrGenerate for memoization to be valid.
type GenerateFunc[T any] func(ctx context.Context) (T, error)

// Option tunes a single GetOrGenerate call.
type Option func(*callOptions)

type callOptions struct {
	ttlHours    int
	ttlOverride bool
}

// WithTTLHours overrides the cache's default TTL for the stored entry.
func WithTTLHours(hours int) Option {
	return func(o *callOptions) {
		o.ttlHours = hours
		o.ttlOverride = true
	}
}

// Gate memoizes one kind of generation under a key namespace.
// It is safe for concurrent use; concurrent misses for the same key share
// one generate call.
type Gate[T any] struct {
	namespace string
	cache     Cache
	metrics   *Metrics
	now       func() time.Time
	group     singleflight.Group
}

// NewGate returns a Gate writing keys under namespace. metrics may be nil.
func NewGate[T any](namespace string, c Cache, metrics *Metrics) *Gate[T] {
	return &Gate[T]{namespace: namespace, cache: c, metrics: metrics, now: time.Now}
}

// Namespace returns the key prefix used by the gate.
func (g *Gate[T]) Namespace() string { return g.namespace }

// Key derives the cache key for params.
func (g *Gate[T]) Key(params map[string]any) (string, error) {
	key, err := cache.DeriveKey(g.namespace, params)
	if err != nil {
		return "", errs.Wrap(err, errs.CodeRequestInvalid, "generation: derive cache key")
	}
	return key, nil
}

// GetOrGenerate returns the cached value for params or calls generate and
// caches its result. Failed generations are never cached.
//
// The provider call runs detached from the caller's cancellation so that a
// caller giving up does not fail others waiting on the same key; the caller
// itself still returns as soon as ctx is done.
func (g *Gate[T]) GetOrGenerate(ctx context.Context, params map[string]any, generate GenerateFunc[T], opts ...Option) (Result[T], error) {
	key, err := g.Key(params)
	if err != nil {
		return Result[T]{}, err
	}

	if res, ok := g.lookup(ctx, key); ok {
		g.countLookup("hit")
		return res, nil
	}
	g.countLookup("miss")

	o := callOptions{ttlHours: g.cache.DefaultTTLHours()}
	for _, opt := range opts {
		opt(&o)
	}

	// led is written by the flight goroutine and read only after its result
	// arrives on ch.
	var led bool
	ch := g.group.DoChan(key, func() (any, error) {
		led = true
		return g.generate(context.WithoutCancel(ctx), key, generate, o.ttlHours)
	})

	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result[T]{}, r.Err
		}
		res := r.Val.(Result[T])
		if !led {
			res.FromCache = true
		}
		return res, nil
	}
}

// lookup returns a decoded cache hit. An entry that no longer decodes into T
// is treated as a miss.
func (g *Gate[T]) lookup(ctx context.Context, key string) (Result[T], bool) {
	entry, ok := g.cache.Get(ctx, key)
	if !ok {
		return Result[T]{}, false
	}
	var v T
	if err := entry.Decode(&v); err != nil {
		logging.FromContext(ctx).Warn("generation: cached value does not decode, regenerating",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return Result[T]{}, false
	}
	return Result[T]{Value: v, CreatedAt: entry.CreatedAt, FromCache: true}, true
}

func (g *Gate[T]) generate(ctx context.Context, key string, generate GenerateFunc[T], ttlHours int) (Result[T], error) {
	// Another flight may have filled the key between our lookup and now.
	if res, ok := g.lookup(ctx, key); ok {
		return res, nil
	}

	start := time.Now()
	v, err := generate(ctx)
	if g.metrics != nil {
		g.metrics.duration.WithLabelValues(g.namespace).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.countGenerate("error")
		return Result[T]{}, errs.With(err, errs.CodeGenerationFailure)
	}
	g.countGenerate("ok")

	created := g.now()
	if !g.cache.SetCreated(ctx, key, v, created, ttlHours) {
		logging.FromContext(ctx).Warn("generation: result not cached", slog.String("key", key))
	}
	return Result[T]{Value: v, CreatedAt: created}, nil
}

func (g *Gate[T]) countLookup(result string) {
	if g.metrics != nil {
		g.metrics.lookups.WithLabelValues(g.namespace, result).Inc()
	}
}

func (g *Gate[T]) countGenerate(outcome string) {
	if g.metrics != nil {
		g.metrics.generations.WithLabelValues(g.namespace, outcome).Inc()
	}
}
