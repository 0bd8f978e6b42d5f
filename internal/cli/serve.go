package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/memgraph/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the graph service with its HTTP API, agents and event stream",
		Long: `Run the memory graph service.

Settings come from environment variables, optionally prefixed
(MEMGRAPH_DB_PATH, MEMGRAPH_API_KEY, ...). The API listens on
API_LISTEN_ADDR; health, readiness, metrics and the /events websocket
stream are served on OPS_LISTEN_ADDR.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithPrefix(prefix)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "loading config", Err: err}
			}
			if err := cfg.Validate(); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid config", Err: err}
			}

			logger := newLogger(cfg)
			logger.Info().
				Str("environment", cfg.Environment).
				Str("api_addr", cfg.APIListenAddr).
				Str("ops_addr", cfg.OpsListenAddr).
				Bool("persistence", cfg.PersistenceEnabled()).
				Msg("starting memgraph")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("startup failed")
				return err
			}
			if err := a.run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("memgraph stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "env-prefix", "MEMGRAPH", "environment variable prefix, empty for none")
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version string) int {
	cmd := NewRootCommand(version)
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrln("Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
