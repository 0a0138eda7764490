// Package api provides the HTTP REST API of farmscan. It exposes scan task
// management, live progress over WebSocket, mDNS discovery and system
// status.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/farmscan/internal/api/handlers"
	"github.com/anstrom/farmscan/internal/api/middleware"
	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/metrics"
	"github.com/anstrom/farmscan/internal/scanning"
)

const (
	apiPrefix = "/api/v1"

	serverShutdownTimeout = 30 * time.Second
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	engine     scanning.Engine
	handlers   *apihandlers.HandlerManager
	logger     *slog.Logger
	metrics    *metrics.PrometheusMetrics
	discovery  apihandlers.CandidateSource
	startTime  time.Time
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithMetrics records HTTP metrics into m and serves its registry on
// /metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDiscovery enables the mDNS discovery endpoints.
func WithDiscovery(source apihandlers.CandidateSource) Option {
	return func(s *Server) {
		s.discovery = source
	}
}

// New creates a new API server instance.
func New(cfg *config.Config, engine scanning.Engine, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("scan engine is required")
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		engine:    engine,
		logger:    logging.Default().WithComponent("api").Logger,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.handlers = apihandlers.New(engine, server.logger, apihandlers.Options{
		MaxRequestSize:   cfg.API.MaxRequestSize,
		ProgressInterval: cfg.API.ProgressInterval,
		Discovery:        server.discovery,
	})

	// Setup routes
	server.setupRoutes()

	// Setup middleware
	server.setupMiddleware()

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:           cfg.GetAPIAddress(),
		Handler:        server.handler,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: cfg.API.MaxHeaderBytes,
	}

	return server, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server. Progress streams are closed
// first since Shutdown does not wait for hijacked connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	if err := s.handlers.Close(); err != nil {
		s.logger.Warn("Failed to close progress streams", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes. Routes are registered on the
// root router with their full path so a method mismatch answers 405.
func (s *Server) setupRoutes() {
	hm := s.handlers
	r := s.router

	// Health and status endpoints
	r.HandleFunc(apiPrefix+"/liveness", hm.Liveness).Methods("GET")
	r.HandleFunc(apiPrefix+"/health", hm.Health).Methods("GET")
	r.HandleFunc(apiPrefix+"/status", hm.Status).Methods("GET")
	r.HandleFunc(apiPrefix+"/version", hm.Version).Methods("GET")

	// Scan tasks and engine configuration
	r.HandleFunc(apiPrefix+"/scans", hm.CreateScan).Methods("POST")
	r.HandleFunc(apiPrefix+"/scans", hm.GetStats).Methods("GET")
	r.HandleFunc(apiPrefix+"/scans", hm.UpdateConfig).Methods("PATCH")
	r.HandleFunc(apiPrefix+"/scans", hm.DeleteAllScans).Methods("DELETE")
	r.HandleFunc(apiPrefix+"/scans/{id}", hm.GetScan).Methods("GET")
	r.HandleFunc(apiPrefix+"/scans/{id}", hm.DeleteScan).Methods("DELETE")
	r.HandleFunc(apiPrefix+"/scans/{id}/ws", hm.ScanProgress).Methods("GET")

	// mDNS discovery
	r.HandleFunc(apiPrefix+"/discovery/mdns", hm.ListCandidates).Methods("GET")
	r.HandleFunc(apiPrefix+"/discovery/mdns/scan", hm.ScanCandidates).Methods("POST")

	if s.metrics != nil {
		metricsHandler := promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})
		r.Handle(apiPrefix+"/metrics", metricsHandler).Methods("GET")
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}

	r.HandleFunc("/", s.index).Methods("GET")
}

// setupMiddleware configures middleware for the API server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}

	if rl := s.config.API.RateLimit; rl.Enabled {
		s.router.Use(middleware.RateLimit(rl.RequestsPerSecond, rl.Burst, s.logger))
	}

	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())

	s.handler = s.router

	// CORS wraps the router so preflight requests never reach method
	// matching.
	if cors := s.config.API.CORS; cors.Enabled {
		s.handler = handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
			handlers.ExposedHeaders([]string{"X-Request-ID"}),
		)(s.router)
	}
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "farmscan API",
		"version": "v1",
		"endpoints": map[string]string{
			"scans":     "/api/v1/scans",
			"discovery": "/api/v1/discovery/mdns",
			"liveness":  "/api/v1/liveness",
			"health":    "/api/v1/health",
			"status":    "/api/v1/status",
			"metrics":   "/metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// Uptime returns how long the server has existed.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
