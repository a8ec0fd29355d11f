package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/cache"
	"github.com/54b3r/ragcore-go/internal/embedder"
	"github.com/54b3r/ragcore-go/internal/generation"
	"github.com/54b3r/ragcore-go/internal/imagegen"
	"github.com/54b3r/ragcore-go/internal/rag"
	"github.com/54b3r/ragcore-go/internal/store"
)

// core bundles the retrieval engine with the resources it owns.
type core struct {
	engine *rag.Engine
	store  *store.SQLiteStore
	// qdrant is nil when the in-memory index is in use.
	qdrant *rag.QdrantIndex
}

// Close releases the store and index connections.
func (c *core) Close() {
	if c.qdrant != nil {
		_ = c.qdrant.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

// buildCore validates the embedder settings, opens the SQLite store, connects
// the vector index and ensures the collection exists.
func buildCore(ctx context.Context, log *slog.Logger) (*core, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embedder.Backend()),
		slog.Int("dimension", emb.Dimension()),
	)

	dbPath := os.Getenv("RAGCORE_DB")
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("could not resolve default database path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	log.Info("document store opened", slog.String("path", dbPath))

	c := &core{store: st}
	collection := getEnvOrDefault("QDRANT_COLLECTION", "ragcore-docs")

	var index rag.VectorIndex
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		port := getEnvInt("QDRANT_PORT", 6334)
		q, err := rag.NewQdrantIndex(&rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		c.qdrant = q
		index = q
		log.Info("qdrant index connected", slog.String("host", host), slog.Int("port", port), slog.String("collection", collection))
	} else {
		index = rag.NewMemoryIndex(collection)
		log.Warn("QDRANT_HOST not set: using an in-memory vector index; vectors are lost on exit")
	}

	engine, err := rag.NewEngine(emb, index, st, &rag.EngineConfig{
		TenantKey: os.Getenv("TENANT_KEY"),
		Metric:    rag.Metric(strings.ToLower(os.Getenv("VECTOR_METRIC"))),
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := engine.Init(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialise vector index: %w", err)
	}
	c.engine = engine
	return c, nil
}

// buildCache selects the shared cache backend and logs a fallback to the
// in-process backend.
func buildCache(ctx context.Context, log *slog.Logger) *cache.Service {
	c := cache.New(ctx, cache.Config{
		RedisURL:        os.Getenv("REDIS_URL"),
		DefaultTTLHours: getEnvInt("CACHE_EXPIRATION_HOURS", cache.DefaultTTLHours),
	})
	if reason := c.FallbackReason(); reason != nil {
		log.Warn("cache: redis unavailable, falling back to in-memory cache", slog.Any("error", reason))
	}
	log.Info("cache ready",
		slog.String("backend", c.Backend()),
		slog.Int("ttl_hours", c.DefaultTTLHours()),
	)
	return c
}

// imagesConfigured reports whether Imagen credentials are present.
func imagesConfigured() bool {
	return os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("IMAGE_API_KEY") != ""
}

// buildImages wires Imagen, local storage and the cache gate.
func buildImages(ctx context.Context, c *cache.Service, metrics *generation.Metrics) (*imagegen.Service, *imagegen.LocalStore, error) {
	gen, err := imagegen.NewImagenGenerator(ctx, imagegen.ImagenConfig{
		Project:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Location: os.Getenv("VERTEX_AI_LOCATION"),
		APIKey:   os.Getenv("IMAGE_API_KEY"),
		Model:    os.Getenv("IMAGE_MODEL"),
	})
	if err != nil {
		return nil, nil, err
	}
	storage, err := imagegen.NewLocalStore(getEnvOrDefault("IMAGE_DIR", "images"), os.Getenv("IMAGE_BASE_URL"))
	if err != nil {
		return nil, nil, err
	}
	return imagegen.NewService(c, gen, storage, metrics), storage, nil
}

// addOwnerFlag registers --owner, defaulting to RAGCORE_OWNER.
func addOwnerFlag(cmd *cobra.Command, owner *string) {
	cmd.Flags().StringVarP(owner, "owner", "o", os.Getenv("RAGCORE_OWNER"), "Owner whose documents are read or written (default: $RAGCORE_OWNER)")
}

// requireOwner returns an error naming the command when owner is empty.
func requireOwner(command, owner string) error {
	if owner == "" {
		return fmt.Errorf("%s: --owner or RAGCORE_OWNER is required", command)
	}
	return nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses the named environment variable as an int, returning
// fallback if the variable is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
