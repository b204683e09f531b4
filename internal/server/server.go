// Package server exposes the benchmark pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MochiXu/hybrid-search-ranx/internal/benchmark"
	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/middleware"
)

// Server is the HTTP server in front of a benchmark service.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	svc     *benchmark.Service
	limiter *middleware.RateLimiter
	metrics http.Handler

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int

	// MaxBodyBytes bounds request bodies; 0 disables the bound.
	MaxBodyBytes int64

	// RequestTimeout bounds one benchmark.
	RequestTimeout time.Duration

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		MaxBodyBytes:    64 << 20,
		RequestTimeout:  5 * time.Minute,
		ReadTimeout:     time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom derives the server config from the application config.
func ConfigFrom(appCfg config.ServerConfig, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = appCfg.Host
	cfg.Port = appCfg.Port
	cfg.Version = version
	cfg.RateLimit = appCfg.RateLimit
	cfg.MaxBodyBytes = appCfg.MaxBodyBytes
	if appCfg.RequestTimeout > 0 {
		cfg.RequestTimeout = appCfg.RequestTimeout
		// Leave room to write the response.
		cfg.WriteTimeout = appCfg.RequestTimeout + 30*time.Second
	}
	return cfg
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a server around svc.
func New(cfg Config, svc *benchmark.Service, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg: cfg,
		log: log,
		svc: svc,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimit))
	}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	s.started = false
	s.log.Info("Server stopped")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var compare http.Handler = http.HandlerFunc(s.handleCompare)
	compare = middleware.MaxBytes(s.cfg.MaxBodyBytes)(compare)
	if s.limiter != nil {
		compare = s.limiter.Middleware(compare)
	}
	mux.Handle("POST /v1/benchmark/compare", compare)

	return middleware.Logging(s.log)(mux)
}

// Health reports whether the server is serving.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
