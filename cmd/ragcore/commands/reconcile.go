package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/rag"
)

// NewReconcileCmd constructs the `ragcore reconcile` command, which compares
// the document store with the vector index and optionally repairs drift.
func NewReconcileCmd() *cobra.Command {
	var repair bool
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find and repair documents without vectors and vectors without documents",
		Long: `Ingestion writes the document before its vector, and removal deletes the
document before its vector. A crash between the two steps leaves either a
document that search never returns or a vector search skips as dangling.

reconcile lists both kinds of drift. With --repair it re-embeds documents
that lack a vector and deletes vectors that lack a document. Documents newer
than --grace are ignored so in-flight ingests are not touched.

Examples:
  ragcore reconcile
  ragcore reconcile --repair
  ragcore reconcile --repair --grace 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			c, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			defer c.Close()

			rep, err := c.engine.Reconcile(ctx, rag.ReconcileOptions{Grace: grace, Repair: repair})
			if werr := writeJSON(cmd, rep); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			log.Info("reconcile complete",
				slog.Bool("consistent", rep.Consistent()),
				slog.Int("missing_vectors", len(rep.MissingVectors)),
				slog.Int("orphan_vectors", len(rep.OrphanVectors)),
				slog.Int("reindexed", rep.Reindexed),
				slog.Int("deleted", rep.Deleted),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Re-index missing vectors and delete orphan vectors")
	cmd.Flags().DurationVar(&grace, "grace", rag.DefaultReconcileGrace, "Skip documents created within this window")

	return cmd
}
