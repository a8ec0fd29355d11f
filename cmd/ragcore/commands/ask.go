package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/assistant"
	"github.com/54b3r/ragcore-go/internal/provider"
	"github.com/54b3r/ragcore-go/internal/tracing"
)

// NewAskCmd constructs the `ragcore ask` command, which sends one message to
// the assistant and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var owner string
	var session string
	var noRAG bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a question grounded in an owner's documents",
		Long: `Send a question to the chat model configured by MODEL_PROVIDER.

Unless --no-rag is set, the most relevant documents of --owner are assembled
into a bounded context and given to the model. Turns are stored under
--session (default: the owner) so follow-up questions see earlier answers.

Examples:
  ragcore ask --owner alice "what is our on-call escalation policy?"
  ragcore ask --owner alice --session incident-42 "and who is secondary?"
  ragcore ask --no-rag "explain cosine similarity"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			useRAG := !noRAG
			if useRAG {
				if err := requireOwner("ask", owner); err != nil {
					return fmt.Errorf("%w (or pass --no-rag)", err)
				}
			}
			if session == "" {
				session = owner
			}

			flush := tracing.Enable(log)
			defer flush()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			c, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer c.Close()

			asst, err := assistant.New(&assistant.Config{
				ChatModel: chatModel,
				Context:   c.engine,
				History:   c.store,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise assistant: %w", err)
			}

			out := cmd.OutOrStdout()
			reply, err := asst.Chat(ctx, assistant.Request{
				Session: session,
				Owner:   owner,
				Message: strings.Join(args, " "),
				UseRAG:  useRAG,
			}, out)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)

			if reply.ContextError != "" {
				log.Warn("answered without documents", slog.String("reason", reply.ContextError))
			}
			if len(reply.Sources) > 0 {
				log.Info("context documents", slog.Any("ids", reply.Sources))
			}
			return nil
		},
	}

	addOwnerFlag(cmd, &owner)
	cmd.Flags().StringVarP(&session, "session", "s", "", "Conversation id for history (default: the owner)")
	cmd.Flags().BoolVar(&noRAG, "no-rag", false, "Do not inject retrieved documents")

	return cmd
}
