// Package commands defines all Cobra CLI commands for the ragcore binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragcore-go/internal/audit"
	"github.com/54b3r/ragcore-go/internal/config"
	"github.com/54b3r/ragcore-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcore",
		Short: "ragcore: owner-scoped retrieval, context assembly and cached generation",
		Long: `ragcore ingests documents into a vector index, answers owner-scoped
semantic searches, assembles bounded context for a chat model, and memoizes
expensive generations (images) behind a shared cache.

Settings come from the environment, a .env file (--env-file, default ./.env)
and a YAML config file (~/.ragcore/config.yaml). Environment always wins.
See 'ragcore --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Bootstrap logger until LOG_LEVEL/LOG_FORMAT are known.
			log := logging.New(logging.OptionsFromEnv())

			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			log = logging.New(logging.OptionsFromEnv())
			slog.SetDefault(log)

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragcore/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewImageCmd(),
		NewReconcileCmd(),
		NewVersionCmd(),
	)

	return root
}
