// Command segrec records audio into fixed-length segment files and serves
// them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/segment-recorder/internal/config"
)

// Injected at build time via ldflags.
var version = "dev"

// Exit codes.
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitSetup     = 3
	ExitInterrupt = 130
)

// errSetup marks configuration and dependency failures.
var errSetup = errors.New("setup failed")

func main() {
	// Context with signal cancellation.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var envFiles []string
	rootCmd := &cobra.Command{
		Use:     "segrec",
		Short:   "Record audio into fixed-length segment files",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return fmt.Errorf("%w: %w", errSetup, err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Load variables from these .env files (default: ./.env)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(listCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.Is(err, errSetup):
		return ExitSetup
	default:
		return ExitGeneral
	}
}

// loadConfig loads the environment configuration, wrapping failures as
// setup errors.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSetup, err)
	}
	return cfg, nil
}
