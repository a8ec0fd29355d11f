package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters shared by every Gate registered against the
// same registry. Create one per registry and pass it to each Gate.
type Metrics struct {
	// lookups counts cache lookups partitioned by namespace and result
	// ("hit" or "miss").
	lookups *prometheus.CounterVec

	// generations counts generate calls partitioned by namespace and
	// outcome ("ok" or "error").
	generations *prometheus.CounterVec

	// duration records how long generate calls take.
	duration *prometheus.HistogramVec
}

// NewMetrics registers the gate metrics against reg. promauto.With(reg) keeps
// tests hermetic when they pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "gate",
			Name:      "lookups_total",
			Help:      "Cache lookups by the generation gate, partitioned by namespace and result.",
		}, []string{"namespace", "result"}),

		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "gate",
			Name:      "generate_total",
			Help:      "Generate calls made on cache miss, partitioned by namespace and outcome.",
		}, []string{"namespace", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "gate",
			Name:      "generate_duration_seconds",
			Help:      "Wall-clock duration of generate calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"namespace"}),
	}
}
