package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/assistant"
	"github.com/54b3r/ragcore-go/internal/generation"
	"github.com/54b3r/ragcore-go/internal/logging"
	"github.com/54b3r/ragcore-go/internal/provider"
	"github.com/54b3r/ragcore-go/internal/server"
	"github.com/54b3r/ragcore-go/internal/tracing"
)

// NewServeCmd constructs the `ragcore serve` command, which starts the HTTP
// server in front of the retrieval engine, the assistant and the image service.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var probeLLM bool
	var trustProxy bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragcore HTTP server",
		Long: `Start the ragcore HTTP server.

Routes:
  POST   /api/documents        ingest one document for an owner
  DELETE /api/documents/{id}   remove a document (?owner=...)
  POST   /api/search           owner-scoped semantic search
  POST   /api/context          assemble a bounded context string
  POST   /api/chat             stream an assistant reply (SSE)
  POST   /api/images           generate or reuse a cached image
  GET    /images/*             generated image files
  GET    /api/health           liveness
  GET    /api/ready            dependency readiness
  GET    /metrics              Prometheus metrics

Chat is disabled when the model provider cannot be initialised, and image
generation when neither GOOGLE_CLOUD_PROJECT nor IMAGE_API_KEY is set.

Examples:
  ragcore serve
  ragcore serve --port 9090
  QDRANT_HOST=localhost REDIS_URL=redis://localhost:6379/0 ragcore serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := slog.Default()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Enable(log)
			defer flush()

			c, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer c.Close()

			sharedCache := buildCache(ctx, log)
			defer func() { _ = sharedCache.Close() }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			gateMetrics := generation.NewMetrics(reg)

			pingers := []server.Pinger{
				server.NewPinger("store", c.store.Ping),
				server.NewPinger("cache", sharedCache.Ping),
			}
			if c.qdrant != nil {
				pingers = append(pingers, server.NewPinger("qdrant", c.qdrant.Ping))
			}

			deps := server.Deps{Retriever: c.engine}

			providerCfg := provider.FromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				log.Warn("chat disabled: model provider unavailable", slog.Any("error", err))
			} else {
				asst, err := assistant.New(&assistant.Config{
					ChatModel: chatModel,
					Context:   c.engine,
					History:   c.store,
				})
				if err != nil {
					return fmt.Errorf("serve: failed to initialise assistant: %w", err)
				}
				deps.Assistant = asst
				log.Info("assistant ready",
					slog.String("provider", string(providerCfg.Backend)),
					slog.String("model", providerCfg.ModelName()),
				)
				if probeLLM {
					pingers = append(pingers, server.NewLLMPinger(chatModel, string(providerCfg.Backend)))
				}
			}

			imageDir := ""
			if imagesConfigured() {
				images, storage, err := buildImages(ctx, sharedCache, gateMetrics)
				if err != nil {
					return fmt.Errorf("serve: failed to initialise image generation: %w", err)
				}
				deps.Images = images
				imageDir = storage.Dir()
				log.Info("image generation ready", slog.String("dir", imageDir))
			} else {
				log.Info("image generation disabled", slog.String("reason", "GOOGLE_CLOUD_PROJECT and IMAGE_API_KEY not set"))
			}

			preflight(ctx, log, pingers)

			srv, err := server.New(deps, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("RAGCORE_API_KEY"),
				RateLimit:       float64(getEnvInt("RAGCORE_RATE_LIMIT", 0)),
				RateBurst:       getEnvInt("RAGCORE_RATE_BURST", 0),
				TrustProxy:      trustProxy,
				ImageDir:        imageDir,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("RAGCORE_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("RAGCORE_PORT", 8080), "TCP port to listen on")
	cmd.Flags().BoolVar(&trustProxy, "trust-proxy", os.Getenv("RAGCORE_TRUST_PROXY") == "true", "Rate-limit by X-Forwarded-For (only behind a trusted proxy)")
	cmd.Flags().BoolVar(&probeLLM, "probe-llm", false, "Include the chat model in /api/ready (consumes tokens per probe)")

	return cmd
}

// preflight probes every dependency once at startup. Failures are logged,
// not fatal; /api/ready keeps reporting them.
func preflight(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.NewMultiPinger(pingers...).Ping(probeCtx); err != nil {
		log.Warn("startup dependency check failed", slog.Any("error", err))
		return
	}
	log.Info("startup dependency check passed", slog.Int("dependencies", len(pingers)))
}
