package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"breakout-failures/internal/analysis"
	"breakout-failures/internal/config"
	"breakout-failures/internal/metrics"
	"breakout-failures/internal/storage"
)

// Analyzer runs an on-demand scan of one symbol.
type Analyzer interface {
	ScanSymbol(ctx context.Context, ticker, company, interval, candleRange string, save bool) ([]analysis.Failure, error)
}

// HealthCheck pings one backing dependency.
type HealthCheck func(ctx context.Context) error

// Server holds the dependencies for the HTTP API.
type Server struct {
	cfg        config.APIConfig
	analyzer   Analyzer
	store      storage.FailureStore
	health     map[string]HealthCheck
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	router     http.Handler
	httpServer *http.Server
}

// NewServer wires handlers, middleware, and routes.
func NewServer(cfg config.APIConfig, analyzer Analyzer, store storage.FailureStore, health map[string]HealthCheck, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		store:    store,
		health:   health,
		metrics:  m,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.router = s.setupRouter()
	return s
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.RequestTimeout + 10*time.Second,
	}
	s.logger.Info().Str("listen", s.cfg.Listen).Msg("http api listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the composed router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
