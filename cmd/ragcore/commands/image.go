package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/generation"
	"github.com/54b3r/ragcore-go/internal/imagegen"
)

// NewImageCmd constructs the `ragcore image` command, which generates an
// image or returns the cached one for the same prompt, style and aspect ratio.
func NewImageCmd() *cobra.Command {
	var style string
	var aspectRatio string

	cmd := &cobra.Command{
		Use:   "image [prompt]",
		Short: "Generate an image, reusing a cached result for identical requests",
		Long: `Generate an image with Google Imagen and store it under IMAGE_DIR.

Requests are memoized by (prompt, style, aspect ratio) in the shared cache
(REDIS_URL, or an in-process cache when Redis is not configured), so repeating
a request returns the stored image URL without calling Imagen again until the
entry expires (CACHE_EXPIRATION_HOURS, default 24).

Requires GOOGLE_CLOUD_PROJECT (Vertex AI) or IMAGE_API_KEY (Gemini API).

Examples:
  ragcore image "a lighthouse at dusk"
  ragcore image --style watercolor --aspect-ratio 16:9 "a lighthouse at dusk"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if !imagesConfigured() {
				return fmt.Errorf("image: GOOGLE_CLOUD_PROJECT or IMAGE_API_KEY is required")
			}

			sharedCache := buildCache(ctx, log)
			defer func() { _ = sharedCache.Close() }()

			svc, storage, err := buildImages(ctx, sharedCache, generation.NewMetrics(prometheus.NewRegistry()))
			if err != nil {
				return fmt.Errorf("image: %w", err)
			}

			resp, err := svc.Generate(ctx, imagegen.Request{
				Prompt:      strings.Join(args, " "),
				Style:       style,
				AspectRatio: aspectRatio,
			})
			if err != nil {
				return fmt.Errorf("image: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.ImageURL)
			log.Info("image ready",
				slog.Bool("from_cache", resp.FromCache),
				slog.String("dir", storage.Dir()),
				slog.Time("created_at", resp.CreatedAt),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&style, "style", "", "Optional style appended to the prompt")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", imagegen.DefaultAspectRatio, "Aspect ratio as W:H")

	return cmd
}
