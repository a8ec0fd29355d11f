package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/rag"
)

// NewSearchCmd constructs the `ragcore search` command, which runs an
// owner-scoped semantic search, or with --context prints the assembled
// context string a chat model would receive.
func NewSearchCmd() *cobra.Command {
	var owner string
	var topK int
	var asContext bool
	var maxLength int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search an owner's documents",
		Long: `Embed the query, search the vector index restricted to --owner, and print
the matching documents in rank order.

With --context, print the bounded context string instead: the top 3
documents as "Document: <title>\nContent: <content>" blocks, never longer
than --max-length characters.

Examples:
  ragcore search --owner alice "how do I rotate credentials?"
  ragcore search --owner alice --top-k 10 --json "deploy checklist"
  ragcore search --owner alice --context --max-length 2000 "on-call escalation"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if err := requireOwner("search", owner); err != nil {
				return err
			}
			query := strings.Join(args, " ")

			c, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if asContext {
				res, err := c.engine.AssembleContext(ctx, query, owner, maxLength)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, res)
				}
				fmt.Fprint(out, res.Text)
				return nil
			}

			res, err := c.engine.Search(ctx, query, owner, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(res.Dangling) > 0 {
				log.Warn("search skipped vectors without documents; run 'ragcore reconcile'",
					slog.Int("count", len(res.Dangling)))
			}
			if asJSON {
				return writeJSON(cmd, res)
			}
			if len(res.Documents) == 0 {
				fmt.Fprintln(out, "no matching documents")
				return nil
			}
			for i, d := range res.Documents {
				fmt.Fprintf(out, "%d. %s  (score %.4f, id %s)\n", i+1, d.Title, d.Score, d.ID)
			}
			return nil
		},
	}

	addOwnerFlag(cmd, &owner)
	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "Number of documents to return")
	cmd.Flags().BoolVar(&asContext, "context", false, "Print the assembled context string instead of the ranked list")
	cmd.Flags().IntVar(&maxLength, "max-length", rag.DefaultContextLength, "Context budget in characters (with --context)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

// writeJSON pretty-prints v to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
