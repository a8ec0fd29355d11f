package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragcore-go/internal/assistant"
	"github.com/54b3r/ragcore-go/internal/imagegen"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat stream. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// ProbeTimeout bounds each readiness probe. Defaults to 5s if zero.
	ProbeTimeout time.Duration
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	// Chat and image requests take several tokens each.
	RateBurst int
	// TrustProxy keys the rate limit on X-Forwarded-For instead of the peer
	// address. Enable only behind a proxy that sets the header.
	TrustProxy bool
	// APIKey lists the keys accepted on protected /api/* routes, comma
	// separated so keys can be rotated. If empty, authentication is disabled.
	APIKey string
	// ImageDir is served read-only at /images/. Empty disables the route.
	ImageDir string
	// ContextLength is the default budget for POST /api/context when the
	// request omits max_length. Defaults to rag.DefaultContextLength.
	ContextLength int
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is exposed at GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the core services the handlers call. Retriever is required;
// a nil Assistant or Images disables the matching route with 501.
type Deps struct {
	Retriever retriever
	Assistant chatter
	Images    imager
}

// retriever is the subset of *rag.Engine the document handlers use.
type retriever interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (rag.Document, error)
	Search(ctx context.Context, queryText, owner string, topK int) (rag.SearchResult, error)
	AssembleContext(ctx context.Context, queryText, owner string, maxLength int) (rag.Context, error)
	Remove(ctx context.Context, owner, id string) error
}

// chatter streams an assistant reply. *assistant.Assistant satisfies it;
// tests inject a fake.
type chatter interface {
	Chat(ctx context.Context, req assistant.Request, w io.Writer) (*assistant.Reply, error)
}

// imager is the subset of *imagegen.Service used by POST /api/images.
type imager interface {
	Generate(ctx context.Context, req imagegen.Request) (imagegen.Response, error)
}

// Server is the HTTP server that exposes the retrieval core.
type Server struct {
	// retriever serves the document, search and context endpoints.
	retriever retriever
	// chat serves POST /api/chat; nil disables the route.
	chat chatter
	// images serves POST /api/images; nil disables the route.
	images imager
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/documents.
type ingestRequest struct {
	// Owner scopes the document to one user.
	Owner string `json:"owner"`
	// Content is the raw document text.
	Content string `json:"content"`
	// SourceKind is "file", "url" or "external-sync". Defaults to
	// "external-sync" for content pushed by another system.
	SourceKind rag.SourceKind `json:"source_kind,omitempty"`
	// SourceRef is a path, URL or free-form reference.
	SourceRef string `json:"source_ref,omitempty"`
	// Title is shown in assembled context blocks.
	Title string `json:"title,omitempty"`
}

// ingestResponse is the JSON response for POST /api/documents.
type ingestResponse struct {
	Document rag.Document `json:"document"`
	// Indexed is false when the document was stored but its vector was not
	// written. Reconcile repairs it later.
	Indexed bool `json:"indexed"`
	// Error explains why Indexed is false.
	Error string `json:"error,omitempty"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query string `json:"query"`
	Owner string `json:"owner"`
	TopK  int    `json:"top_k,omitempty"`
}

// contextRequest is the JSON body for POST /api/context.
type contextRequest struct {
	Query     string `json:"query"`
	Owner     string `json:"owner"`
	MaxLength int    `json:"max_length,omitempty"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural language query.
	Message string `json:"message"`
	// Owner scopes retrieval to one user's documents.
	Owner string `json:"owner,omitempty"`
	// Session groups turns into a conversation. Defaults to Owner.
	Session string `json:"session,omitempty"`
	// UseRAG injects retrieved context when true. Defaults to true when
	// Owner is set.
	UseRAG *bool `json:"use_rag,omitempty"`
}

// errorResponse is the JSON body written for failed requests.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
