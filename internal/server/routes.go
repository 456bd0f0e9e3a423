package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /metrics", h.Metrics)

	mux.HandleFunc("GET /recording", h.GetRecording)
	mux.HandleFunc("POST /recording/start", h.StartRecording)
	mux.HandleFunc("POST /recording/stop", h.StopRecording)
	mux.HandleFunc("PUT /recording/config", h.UpdateConfig)
	mux.HandleFunc("GET /recording/events", h.RecordingEvents)

	mux.HandleFunc("GET /segments", h.ListSegments)
	mux.HandleFunc("GET /segments/{name}", h.GetSegment)
	mux.HandleFunc("DELETE /segments/{name}", h.DeleteSegment)
	mux.HandleFunc("GET /catalog", h.GetCatalog)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, h.sessionID),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
