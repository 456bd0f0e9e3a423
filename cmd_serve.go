package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/segment-recorder/internal/bootstrap"
)

// serveCmd creates the serve command.
func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Recording is started and stopped with
POST /recording/start and POST /recording/stop; closed segments are listed
under GET /segments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logger := cfg.NewLogger()
			slog.SetDefault(logger)

			deps, err := bootstrap.NewDependencies(cfg, logger)
			if err != nil {
				return fmt.Errorf("%w: %w", errSetup, err)
			}
			if err := deps.Ping(cmd.Context()); err != nil {
				logger.Warn("redis unavailable", slog.String("error", err.Error()))
			}
			return bootstrap.Serve(cmd.Context(), fmt.Sprintf(":%d", cfg.Port), deps, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port (overrides PORT)")
	return cmd
}
