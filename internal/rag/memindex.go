package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/54b3r/ragcore-go/internal/errs"
)

// MemoryIndex is a process-local VectorIndex using brute-force similarity.
// It backs tests and single-process development runs without Qdrant; its
// contents do not survive a restart.
type MemoryIndex struct {
	mu        sync.RWMutex
	name      string
	created   bool
	dimension int
	metric    Metric
	points    map[string]memPoint
}

type memPoint struct {
	vector   []float32
	metadata map[string]any
}

// NewMemoryIndex returns an empty index bound to name.
func NewMemoryIndex(name string) *MemoryIndex {
	return &MemoryIndex{name: name, points: make(map[string]memPoint)}
}

// Name returns the index name given to NewMemoryIndex.
func (m *MemoryIndex) Name() string { return m.name }

// EnsureIndex fixes the dimension and metric on first use and rejects a
// later call with a different dimension.
func (m *MemoryIndex) EnsureIndex(_ context.Context, dimension int, metric Metric) error {
	if dimension <= 0 {
		return errs.Errorf(errs.CodeRequestInvalid, "memindex: invalid dimension %d", dimension)
	}
	if metric == "" {
		metric = MetricCosine
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		if m.dimension != dimension {
			return errs.Errorf(errs.CodeIndexDimensionMismatch,
				"memindex: index %q has dimension %d, got %d", m.name, m.dimension, dimension)
		}
		return nil
	}
	m.created = true
	m.dimension = dimension
	m.metric = metric
	return nil
}

// Upsert inserts or replaces the vector and metadata stored under id.
func (m *MemoryIndex) Upsert(_ context.Context, id string, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(vector); err != nil {
		return err
	}
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.points[id] = memPoint{vector: append([]float32(nil), vector...), metadata: md}
	return nil
}

// Query returns up to topK matches whose metadata satisfies filter, best first.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkLocked(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(m.points))
	for id, p := range m.points {
		if !metadataMatches(p.metadata, filter) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: m.score(p.vector, vector)})
	}

	// Euclid scores are distances, so smaller is closer.
	less := func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		if m.metric == MetricEuclid {
			return matches[i].Score < matches[j].Score
		}
		return matches[i].Score > matches[j].Score
	}
	sort.Slice(matches, less)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes ids. Unknown ids are ignored.
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// ListIDs returns every stored id in sorted order.
func (m *MemoryIndex) ListIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryIndex) checkLocked(vector []float32) error {
	if !m.created {
		return errs.Errorf(errs.CodeIndexUnavailable, "memindex: index %q does not exist", m.name)
	}
	if len(vector) != m.dimension {
		return errs.Errorf(errs.CodeIndexDimensionMismatch,
			"memindex: vector length %d, index dimension %d", len(vector), m.dimension)
	}
	return nil
}

func (m *MemoryIndex) score(a, b []float32) float32 {
	switch m.metric {
	case MetricDot:
		return dot(a, b)
	case MetricEuclid:
		var sum float64
		for i := range a {
			d := float64(a[i] - b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default:
		na, nb := math.Sqrt(float64(dot(a, a))), math.Sqrt(float64(dot(b, b)))
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(float64(dot(a, b)) / (na * nb))
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// metadataMatches reports whether md equals every filter pair. Values are
// compared by their printed form so that SourceKind("url") matches "url".
func metadataMatches(md, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
