package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/ragcore-go/internal/logging"
)

// defaultProbeTimeout bounds each dependency probe so /api/ready answers
// quickly when a dependency hangs.
const defaultProbeTimeout = 5 * time.Second

// Pinger reports whether one dependency is reachable. Implementations must be
// safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is healthy.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "qdrant".
	Name() string
}

// MultiPinger probes several dependencies concurrently.
type MultiPinger struct {
	pingers []Pinger
	timeout time.Duration
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers, timeout: defaultProbeTimeout}
}

// Ping probes every dependency and returns the first failure in registration
// order, prefixed with the dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, c := range probeAll(ctx, m.pingers, m.timeout) {
		if !c.OK {
			return fmt.Errorf("%s: %s", c.Name, c.Error)
		}
	}
	return nil
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck is the outcome of one dependency probe.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// probeAll runs every probe in parallel, each under its own timeout, and
// returns the results in the order of pingers.
func probeAll(ctx context.Context, pingers []Pinger, timeout time.Duration) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// handleHealth handles GET /api/health. It reports liveness only.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /api/ready. It answers 200 when every dependency
// probe succeeds and 503 otherwise, listing each probe's outcome.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: probeAll(r.Context(), s.pingers, s.cfg.ProbeTimeout)}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		log.Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
			slog.Int64("latency_ms", c.LatencyMS),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
