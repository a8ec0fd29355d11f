package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragcore-go/internal/errs"
)

func TestMemoryIndex_RequiresEnsure(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex("docs")

	err := idx.Upsert(context.Background(), "a", []float32{1, 0}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsIndexUnavailable(err))
}

func TestMemoryIndex_EnsureRejectsBadDimension(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex("docs")

	err := idx.EnsureIndex(context.Background(), 0, MetricCosine)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestMemoryIndex_VectorLengthMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex("docs")
	require.NoError(t, idx.EnsureIndex(ctx, 2, MetricCosine))

	err := idx.Upsert(ctx, "a", []float32{1, 0, 0}, nil)
	assert.True(t, errs.HasCode(err, errs.CodeIndexDimensionMismatch))
	_, err = idx.Query(ctx, []float32{1}, 3, nil)
	assert.True(t, errs.HasCode(err, errs.CodeIndexDimensionMismatch))
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex("docs")
	require.NoError(t, idx.EnsureIndex(ctx, 2, MetricCosine))

	require.NoError(t, idx.Upsert(ctx, "a", []float32{0, 1}, map[string]any{"owner": "x"}))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, map[string]any{"owner": "y"}))

	got, err := idx.Query(ctx, []float32{1, 0}, 5, map[string]any{"owner": "y"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)

	got, err = idx.Query(ctx, []float32{1, 0}, 5, map[string]any{"owner": "x"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndex_Metrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		metric Metric
		want   []string
	}{
		// near is closest in angle; far is longer along the query axis.
		{MetricCosine, []string{"near", "far", "off"}},
		{MetricDot, []string{"far", "near", "off"}},
		{MetricEuclid, []string{"near", "off", "far"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.metric), func(t *testing.T) {
			idx := NewMemoryIndex("docs")
			require.NoError(t, idx.EnsureIndex(ctx, 2, tc.metric))
			require.NoError(t, idx.Upsert(ctx, "near", []float32{1, 0}, nil))
			require.NoError(t, idx.Upsert(ctx, "far", []float32{5, 1}, nil))
			require.NoError(t, idx.Upsert(ctx, "off", []float32{0, 1}, nil))

			got, err := idx.Query(ctx, []float32{1, 0}, 3, nil)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.ID
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestMemoryIndex_TopKAndTies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex("docs")
	require.NoError(t, idx.EnsureIndex(ctx, 2, MetricCosine))
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, idx.Upsert(ctx, id, []float32{1, 1}, nil))
	}

	got, err := idx.Query(ctx, []float32{1, 1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = idx.Query(ctx, []float32{1, 1}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndex_DeleteAndListIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex("docs")
	require.NoError(t, idx.EnsureIndex(ctx, 2, MetricDot))
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, idx.Upsert(ctx, id, []float32{1, 0}, nil))
	}

	require.NoError(t, idx.Delete(ctx, []string{"b", "missing"}))
	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestMemoryIndex_FilterMatchesTypedValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex("docs")
	require.NoError(t, idx.EnsureIndex(ctx, 2, MetricCosine))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, map[string]any{"source_kind": "url"}))

	got, err := idx.Query(ctx, []float32{1, 0}, 3, map[string]any{"source_kind": SourceURL})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
