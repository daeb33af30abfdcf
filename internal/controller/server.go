// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"scenepipe/internal/controller/handlers"
	"scenepipe/internal/controller/middleware"
)

// Options tune the server beyond its handlers.
type Options struct {
	// Per-IP limit on job submission and estimation; 0 disables it.
	SubmitRateLimit float64
	SubmitBurst     int
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, deps handlers.Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = opts.Logger
	}

	// Cancelled when Shutdown starts so event streams end instead of
	// holding their connections open.
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(deps, opts),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)

	return &Server{httpServer: srv}
}

// NewHandler builds the routed API.
func NewHandler(deps handlers.Deps, opts Options) http.Handler {
	h := handlers.New(deps)
	limitMW := middleware.NewRateLimiter(opts.SubmitRateLimit, opts.SubmitBurst).Middleware()

	mux := http.NewServeMux()

	mux.Handle("POST /jobs", limitMW(http.HandlerFunc(h.SubmitJob)))
	mux.Handle("POST /estimate", limitMW(http.HandlerFunc(h.EstimateProject)))
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/events", h.StreamEvents)

	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /cache/{key}", h.InvalidateCache)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return middleware.RequestID(opts.Logger)(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
