package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragcore-go/internal/cache"
	"github.com/54b3r/ragcore-go/internal/errs"
)

type image struct {
	URL string `json:"image_url"`
}

func newTestGate(t *testing.T) (*Gate[image], *cache.Service, *Metrics) {
	t.Helper()
	svc := cache.New(context.Background(), cache.Config{})
	m := NewMetrics(prometheus.NewRegistry())
	return NewGate[image]("img_cache", svc, m), svc, m
}

// counter returns a generate func that counts its calls.
func counter(calls *atomic.Int32, url string) GenerateFunc[image] {
	return func(context.Context) (image, error) {
		calls.Add(1)
		return image{URL: url}, nil
	}
}

func TestGate_MemoizesSuccessfulGeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, m := newTestGate(t)
	var calls atomic.Int32
	params := map[string]any{"prompt": "a red fox", "style": "watercolor", "aspect_ratio": "1:1"}

	first, err := g.GetOrGenerate(ctx, params, counter(&calls, "/images/fox.png"))
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "/images/fox.png", first.Value.URL)

	second, err := g.GetOrGenerate(ctx, params, counter(&calls, "/images/other.png"))
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "/images/fox.png", second.Value.URL)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("img_cache", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("img_cache", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("img_cache", "ok")))
}

func TestGate_ParameterOrderDoesNotMatter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newTestGate(t)
	var calls atomic.Int32

	_, err := g.GetOrGenerate(ctx, map[string]any{"a": 1, "b": "x"}, counter(&calls, "u"))
	require.NoError(t, err)
	res, err := g.GetOrGenerate(ctx, map[string]any{"b": "x", "a": 1}, counter(&calls, "u"))
	require.NoError(t, err)

	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGate_FailuresAreNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, svc, m := newTestGate(t)
	params := map[string]any{"prompt": "unsafe"}
	var calls atomic.Int32

	failing := func(context.Context) (image, error) {
		calls.Add(1)
		return image{}, errors.New("provider rejected prompt")
	}

	_, err := g.GetOrGenerate(ctx, params, failing)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeGenerationFailure))
	assert.True(t, errs.IsUpstream(err))

	key, err := g.Key(params)
	require.NoError(t, err)
	assert.False(t, svc.Exists(ctx, key))

	res, err := g.GetOrGenerate(ctx, params, counter(&calls, "ok"))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("img_cache", "error")))
}

func TestGate_TTLOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newTestGate(t)
	params := map[string]any{"prompt": "ephemeral"}
	var calls atomic.Int32

	_, err := g.GetOrGenerate(ctx, params, counter(&calls, "u"), WithTTLHours(0))
	require.NoError(t, err)
	res, err := g.GetOrGenerate(ctx, params, counter(&calls, "u"))
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGate_ConcurrentMissesShareOneGeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newTestGate(t)
	params := map[string]any{"prompt": "a busy fox"}

	var calls atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context) (image, error) {
		calls.Add(1)
		<-release
		return image{URL: "shared"}, nil
	}

	var wg sync.WaitGroup
	results := make([]Result[image], 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.GetOrGenerate(ctx, params, slow)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	generated := 0
	for _, r := range results {
		assert.Equal(t, "shared", r.Value.URL)
		if !r.FromCache {
			generated++
		}
	}
	assert.Equal(t, 1, generated, "only the caller that ran generate reports FromCache=false")
}

func TestGate_CallerCancellationDoesNotAbortGeneration(t *testing.T) {
	t.Parallel()
	g, svc, _ := newTestGate(t)
	params := map[string]any{"prompt": "patient fox"}

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context) (image, error) {
		close(started)
		<-release
		return image{URL: "late"}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.GetOrGenerate(ctx, params, slow)
		done <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	key, err := g.Key(params)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.Exists(context.Background(), key) }, time.Second, 5*time.Millisecond)

	res, err := g.GetOrGenerate(context.Background(), params, counter(new(atomic.Int32), "unused"))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "late", res.Value.URL)
}

func TestGate_UndecodableEntryRegenerates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, svc, _ := newTestGate(t)
	params := map[string]any{"prompt": "shape change"}

	key, err := g.Key(params)
	require.NoError(t, err)
	require.True(t, svc.Set(ctx, key, "a plain string"))

	var calls atomic.Int32
	res, err := g.GetOrGenerate(ctx, params, counter(&calls, "fresh"))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "fresh", res.Value.URL)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGate_UnencodableParams(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGate(t)

	_, err := g.GetOrGenerate(context.Background(), map[string]any{"bad": func() {}}, counter(new(atomic.Int32), "u"))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestGate_NilMetrics(t *testing.T) {
	t.Parallel()
	g := NewGate[image]("txt_cache", cache.New(context.Background(), cache.Config{}), nil)

	res, err := g.GetOrGenerate(context.Background(), map[string]any{"q": 1}, counter(new(atomic.Int32), "u"))
	require.NoError(t, err)
	assert.Equal(t, "u", res.Value.URL)
	assert.Equal(t, "txt_cache", g.Namespace())
}
