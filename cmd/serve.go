package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qlik-mcp/internal/observability"
)

// newServeCmd creates the long-running command that serves the command
// endpoint and keeps the browser session healthy until interrupted.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the command endpoint until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			logger.Info("Serving Qlik command endpoint",
				zap.String("addr", cfg.MCP().ListenAddr),
				zap.String("server", cfg.Qlik().ServerURL()),
				zap.Bool("metrics", cfg.Metrics().Enabled),
			)

			if err := components.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Command endpoint stopped with an error", zap.Error(err))
				return err
			}
			logger.Info("Command endpoint stopped.")
			return nil
		},
	}

	serveCmd.Flags().String("listen", "127.0.0.1:8765", "address for the command endpoint")
	serveCmd.Flags().Bool("metrics", true, "expose Prometheus metrics on /metrics")
	return serveCmd
}
