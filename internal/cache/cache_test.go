package cache

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type payload struct {
	ImageURL string `json:"image_url"`
}

// ---------------------------------------------------------------------------
// Key derivation
// ---------------------------------------------------------------------------

func TestDeriveKey_OrderIndependent(t *testing.T) {
	t.Parallel()

	a, err := DeriveKey("img_cache", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	b, err := DeriveKey("img_cache", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "img_cache:"))
	assert.Len(t, strings.TrimPrefix(a, "img_cache:"), 64)
}

func TestDeriveKey_DistinctParams(t *testing.T) {
	t.Parallel()

	a, err := DeriveKey("img_cache", map[string]any{"prompt": "a red fox", "style": "sketch"})
	require.NoError(t, err)
	b, err := DeriveKey("img_cache", map[string]any{"prompt": "a red fox", "style": "oil"})
	require.NoError(t, err)
	c, err := DeriveKey("txt_cache", map[string]any{"prompt": "a red fox", "style": "sketch"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, strings.TrimPrefix(a, "img_cache:"), "")
	assert.True(t, strings.HasPrefix(c, "txt_cache:"))
}

func TestCanonicalize_SortedAndUnescaped(t *testing.T) {
	t.Parallel()

	got, err := Canonicalize(map[string]any{
		"z":      "<tag> & more",
		"a":      nil,
		"nested": map[string]any{"y": 2, "x": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"nested":{"x":1,"y":2},"z":"<tag> & more"}`, string(got))
}

func TestCanonicalize_Unencodable(t *testing.T) {
	t.Parallel()

	_, err := DeriveKey("img_cache", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// In-process backend
// ---------------------------------------------------------------------------

func TestMemoryBackend_SetGetDeleteExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend(nil)

	assert.True(t, m.Set(ctx, "k", []byte("v"), time.Hour))
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
	assert.True(t, m.Exists(ctx, "k"))

	assert.True(t, m.Delete(ctx, "k"))
	assert.False(t, m.Exists(ctx, "k"))
	assert.False(t, m.Delete(ctx, "k"))
}

func TestMemoryBackend_ZeroTTLIsAbsentAndSwept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryBackend(clock.Now)

	assert.True(t, m.Set(ctx, "k", []byte("v"), 0))
	assert.Equal(t, 1, m.stored(), "entry occupies storage until the next access")

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.stored())
	assert.False(t, m.Exists(ctx, "k"))
}

func TestMemoryBackend_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryBackend(clock.Now)

	m.Set(ctx, "short", []byte("1"), time.Hour)
	m.Set(ctx, "long", []byte("2"), 3*time.Hour)

	clock.Advance(59 * time.Minute)
	assert.True(t, m.Exists(ctx, "short"))

	clock.Advance(time.Minute)
	assert.False(t, m.Exists(ctx, "short"))
	assert.True(t, m.Exists(ctx, "long"))
	assert.Equal(t, 1, m.stored())
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend(nil)

	src := []byte("abc")
	m.Set(ctx, "k", src, time.Hour)
	src[0] = 'x'

	got, _ := m.Get(ctx, "k")
	got[1] = 'y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend(nil)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%8)
			for j := range 100 {
				ttl := time.Hour
				if j%5 == 0 {
					ttl = 0
				}
				m.Set(ctx, key, []byte("v"), ttl)
				m.Get(ctx, key)
				m.Exists(ctx, key)
				if j%7 == 0 {
					m.Delete(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// Redis backend
// ---------------------------------------------------------------------------

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	rb, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })
	return mr, rb
}

func TestRedisBackend_SetGetWithTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, rb := newTestRedis(t)

	assert.True(t, rb.Set(ctx, "k", []byte(`{"x":1}`), 2*time.Hour))
	got, ok := rb.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(got))
	assert.Equal(t, 2*time.Hour, mr.TTL("k"))

	mr.FastForward(2 * time.Hour)
	_, ok = rb.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisBackend_ZeroTTLIsAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, rb := newTestRedis(t)

	rb.Set(ctx, "k", []byte("old"), time.Hour)
	assert.True(t, rb.Set(ctx, "k", []byte("new"), 0))
	assert.False(t, rb.Exists(ctx, "k"))
	_, ok := rb.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisBackend_DeleteExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, rb := newTestRedis(t)

	assert.False(t, rb.Delete(ctx, "missing"))
	rb.Set(ctx, "k", []byte("v"), time.Hour)
	assert.True(t, rb.Exists(ctx, "k"))
	assert.True(t, rb.Delete(ctx, "k"))
	assert.False(t, rb.Exists(ctx, "k"))
}

func TestRedisBackend_ErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, rb := newTestRedis(t)

	mr.Close()

	_, ok := rb.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, rb.Set(ctx, "k", []byte("v"), time.Hour))
	assert.False(t, rb.Delete(ctx, "k"))
	assert.False(t, rb.Exists(ctx, "k"))
	assert.Error(t, rb.Ping(ctx))
}

// ---------------------------------------------------------------------------
// Service selection
// ---------------------------------------------------------------------------

func TestNew_SelectsRedisWhenReachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	svc := New(context.Background(), Config{RedisURL: "redis://" + mr.Addr()})
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, BackendRedis, svc.Backend())
	assert.NoError(t, svc.FallbackReason())
	assert.NoError(t, svc.Ping(context.Background()))
	assert.Equal(t, DefaultTTLHours, svc.DefaultTTLHours())
}

func TestNew_NoURLUsesMemory(t *testing.T) {
	t.Parallel()

	svc := New(context.Background(), Config{DefaultTTLHours: 6})
	assert.Equal(t, BackendMemory, svc.Backend())
	assert.NoError(t, svc.FallbackReason())
	assert.Equal(t, 6, svc.DefaultTTLHours())
}

func TestNew_FallbackTransparency(t *testing.T) {
	t.Parallel()

	for _, url := range []string{"redis://127.0.0.1:1", "::not a url::"} {
		t.Run(url, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			svc := New(ctx, Config{RedisURL: url})
			assert.Equal(t, BackendMemory, svc.Backend())
			assert.Error(t, svc.FallbackReason())

			assert.True(t, svc.Set(ctx, "k", payload{ImageURL: "u"}))
			assert.True(t, svc.Exists(ctx, "k"))
			e, ok := svc.Get(ctx, "k")
			require.True(t, ok)
			var p payload
			require.NoError(t, e.Decode(&p))
			assert.Equal(t, "u", p.ImageURL)
			assert.True(t, svc.Delete(ctx, "k"))
			assert.False(t, svc.Exists(ctx, "k"))
		})
	}
}

func TestService_EntryTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	svc := New(ctx, Config{Now: clock.Now})

	created := clock.Now().Add(-time.Minute)
	require.True(t, svc.SetCreated(ctx, "k", payload{ImageURL: "u"}, created, 1))

	e, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, e.CreatedAt.Equal(created))
	assert.True(t, e.CachedAt.Equal(clock.Now()))

	clock.Advance(time.Hour)
	_, ok = svc.Get(ctx, "k")
	assert.False(t, ok)
}

func TestService_ZeroTTLOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, svc := range []*Service{
		New(ctx, Config{}),
		New(ctx, Config{RedisURL: "redis://" + mr.Addr()}),
	} {
		assert.True(t, svc.SetWithTTL(ctx, "k", payload{}, 0), svc.Backend())
		_, ok := svc.Get(ctx, "k")
		assert.False(t, ok, svc.Backend())
		assert.False(t, svc.Exists(ctx, "k"), svc.Backend())
		_ = svc.Close()
	}
}

func TestService_HugeTTLIsClampedNotExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, svc := range []*Service{
		New(ctx, Config{}),
		New(ctx, Config{RedisURL: "redis://" + mr.Addr()}),
	} {
		assert.True(t, svc.SetWithTTL(ctx, "k", payload{ImageURL: "u"}, math.MaxInt32), svc.Backend())
		e, ok := svc.Get(ctx, "k")
		require.True(t, ok, svc.Backend())
		assert.True(t, svc.Exists(ctx, "k"), svc.Backend())
		assert.Contains(t, string(e.Value), "u", svc.Backend())
		_ = svc.Close()
	}
}

func TestTTLDuration(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 3*time.Hour, ttlDuration(3))
	assert.Equal(t, time.Duration(0), ttlDuration(0))
	assert.Equal(t, time.Duration(maxTTLHours)*time.Hour, ttlDuration(math.MaxInt32))
	assert.Positive(t, ttlDuration(math.MaxInt32))
}

func TestService_UndecodableEntryIsMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewMemoryBackend(nil)
	svc := NewWithBackend(b, 0)

	b.Set(ctx, "k", []byte("not json"), time.Hour)
	_, ok := svc.Get(ctx, "k")
	assert.False(t, ok)
}
