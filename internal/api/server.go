// Package api serves the daemon's observability surface over HTTP: health,
// dispatch statistics, the property table, a live event feed, and prometheus
// metrics. The surface is read-only; property traffic stays on the
// in-process dispatch API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/dispatch"
	"github.com/mattjoyce/telltale/internal/events"
	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/schema"
	"github.com/mattjoyce/telltale/internal/stats"
)

// Dispatcher is the read side of the dispatch service the handlers serve
// from.
type Dispatcher interface {
	Stats() dispatch.Stats
	Schema() *schema.Schema
	RequestTimeout() time.Duration
}

// RateSource supplies the rolling throughput and latency figures.
type RateSource interface {
	Snapshot() stats.Snapshot
}

// Server is the HTTP observability server.
type Server struct {
	cfg       config.APIConfig
	dispatch  Dispatcher
	rates     RateSource
	hub       *events.Hub
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New builds an API server over a dispatcher. rates, hub, and metrics may be
// nil; the matching endpoints then serve zero values or 404.
func New(cfg config.APIConfig, d Dispatcher, rates RateSource, hub *events.Hub, metrics http.Handler) *Server {
	return &Server{
		cfg:       cfg,
		dispatch:  d,
		rates:     rates,
		hub:       hub,
		metrics:   metrics,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully with a 5 second drain window. Blocking.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No write deadline: the event stream holds its response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", slog.String("listen", s.cfg.Listen))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/stats", s.handleStats)
		r.Get("/v1/configs", s.handleConfigs)
		r.Get("/v1/events", s.handleEvents)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
