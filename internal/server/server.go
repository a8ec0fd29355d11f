// Package server implements the HTTP server that exposes the retrieval core
// (document ingestion, search, context assembly), the chat assistant and the
// cached image generator via a small JSON/SSE API.
// The server is started by the `ragcore serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragcore-go/internal/assistant"
	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 4 << 20

// New constructs a Server from the provided services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	s := &Server{
		retriever: deps.Retriever,
		chat:      deps.Assistant,
		images:    deps.Images,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if len(splitKeys(cfg.APIKey)) == 0 {
		s.log.Warn("auth disabled: RAGCORE_API_KEY is not set; all /api routes are unauthenticated")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, s.log)
	s.stopRL = stop

	// protect applies auth then the per-client rate limit to core routes.
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}
	protectGen := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.weighted(generationCost, h))
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/documents", "documents_create", protect(s.handleIngest))
	s.route(mux, "DELETE /api/documents/{id}", "documents_delete", protect(s.handleRemove))
	s.route(mux, "POST /api/search", "search", protect(s.handleSearch))
	s.route(mux, "POST /api/context", "context", protect(s.handleContext))
	s.route(mux, "POST /api/chat", "chat", protectGen(s.handleChat))
	s.route(mux, "POST /api/images", "images", protectGen(s.handleImages))
	s.route(mux, "GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	if cfg.ImageDir != "" {
		s.route(mux, "GET /images/", "images_static",
			http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.ImageDir))))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = rag.DefaultContextLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("ragcore server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// handleChat handles POST /api/chat requests. It streams the assistant's
// response using Server-Sent Events (SSE) so clients can render tokens as
// they arrive. A final "sources" event lists the documents used as context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, r, http.StatusNotImplemented, errors.New("chat is not configured"))
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	useRAG := req.Owner != ""
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}
	if useRAG && req.Owner == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("owner is required when use_rag is set"))
		return
	}
	session := req.Session
	if session == "" {
		session = req.Owner
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	sw := &sseWriter{w: w, flusher: flusher}
	reply, err := s.chat.Chat(ctx, assistant.Request{
		Session: session,
		Owner:   req.Owner,
		Message: req.Message,
		UseRAG:  useRAG,
	}, sw)

	outcome := "ok"
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.FromContext(r.Context()).Error("chat failed",
			slog.String("outcome", outcome),
			slog.String("code", string(errs.CodeOf(err))),
			slog.Any("error", err),
		)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", singleLine(err.Error()))
		flusher.Flush()
		return
	}

	if len(reply.Sources) > 0 || reply.ContextError != "" {
		meta, _ := json.Marshal(struct {
			Sources      []string `json:"sources"`
			ContextError string   `json:"context_error,omitempty"`
		}{reply.Sources, reply.ContextError})
		fmt.Fprintf(w, "event: sources\ndata: %s\n\n", meta)
	}
	// Signal stream completion.
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

func singleLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
