package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ragcore"

// serverMetrics holds the Prometheus series owned by the HTTP surface.
// The registry is shared with the generation gate metrics in `ragcore serve`.
type serverMetrics struct {
	// httpRequestsTotal counts requests per route name and status code.
	httpRequestsTotal *prometheus.CounterVec
	// httpDurationSeconds is request latency per route name.
	httpDurationSeconds *prometheus.HistogramVec

	// chatRequestsTotal counts finished /api/chat streams by outcome:
	// "ok", "timeout" or "error".
	chatRequestsTotal *prometheus.CounterVec
	// chatDurationSeconds spans request receipt to the last SSE event.
	chatDurationSeconds *prometheus.HistogramVec
	chatActiveStreams   prometheus.Gauge

	// documentsIngestedTotal counts stored documents by source kind and
	// whether they reached the vector index.
	documentsIngestedTotal *prometheus.CounterVec
	// documentsRemovedTotal counts successful DELETE /api/documents/{id}.
	documentsRemovedTotal prometheus.Counter
	// danglingHitsTotal counts index matches dropped by /api/search and
	// /api/context because the document row was gone.
	danglingHitsTotal prometheus.Counter
	// imagesServedTotal counts /api/images responses by origin:
	// "cache" or "generated".
	imagesServedTotal *prometheus.CounterVec
}

// newServerMetrics registers every series against reg. Tests pass a fresh
// registry so nothing leaks into prometheus.DefaultRegisterer.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, route name and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "HTTP request latency by method and route name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),

		chatRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Completed /api/chat streams by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Duration of /api/chat streams by outcome.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Open /api/chat SSE streams.",
		}),

		documentsIngestedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "documents",
			Name:      "ingested_total",
			Help:      "Documents stored through /api/documents, by source kind and index outcome.",
		}, []string{"source_kind", "indexed"}),

		documentsRemovedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "documents",
			Name:      "removed_total",
			Help:      "Documents removed through /api/documents/{id}.",
		}),

		danglingHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "retrieval",
			Name:      "dangling_hits_total",
			Help:      "Index matches dropped because no document row was found.",
		}),

		imagesServedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "images",
			Name:      "served_total",
			Help:      "Images returned by /api/images, by origin.",
		}, []string{"origin"}),
	}
}
