package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maauso/segment-recorder/internal/server"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server and the
// recorder.
const ShutdownTimeout = 30 * time.Second

// Serve runs the HTTP API on addr until ctx is cancelled, then shuts the
// server down and closes deps.
func Serve(ctx context.Context, addr string, deps *Dependencies, logger *slog.Logger) error {
	router := server.NewRouter(deps.NewHandlers(), logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: segment event streams stay open for a whole session.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown failed: %w", err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		logger.Info("server stopped gracefully")
	}
	return errors.Join(errs...)
}
