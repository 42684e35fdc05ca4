package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/server/handler"
	"github.com/alanyoungcy/coinpick/internal/server/middleware"
	"github.com/alanyoungcy/coinpick/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// Limiter throttles the mutating round endpoints when set.
	Limiter         domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Round  *handler.RoundHandler
}

// Server is the local HTTP + WebSocket bridge for the game UI.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed handler. Tests serve it with httptest.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	limited := func(h http.HandlerFunc) http.Handler { return h }
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		mw := middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)
		limited = func(h http.HandlerFunc) http.Handler { return mw(h) }
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/instruments", handlers.Round.ListInstruments)
	mux.HandleFunc("GET /api/round", handlers.Round.GetRound)
	mux.Handle("POST /api/round", limited(handlers.Round.StartRound))
	mux.Handle("POST /api/round/select", limited(handlers.Round.SelectInstrument))
	mux.Handle("DELETE /api/round", limited(handlers.Round.CancelRound))
	mux.HandleFunc("GET /api/stats", handlers.Round.GetStats)
	mux.HandleFunc("GET /api/rounds", handlers.Round.ListRounds)
	mux.Handle("POST /api/rounds/export", limited(handlers.Round.ExportRounds))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
