// Package server provides the HTTP API for ragd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/metrics"
	"github.com/hyperjump/ragd/internal/search"
	"github.com/hyperjump/ragd/internal/storage"
)

// Server is the HTTP server for the ragd API.
type Server struct {
	engine  *search.Engine
	storage storage.Storage
	config  *config.Config
	metrics *metrics.Recorder
	logger  *zap.Logger
	server  *http.Server
	started time.Time
}

// NewServer creates a server with the given dependencies. rec may be nil to disable /metrics.
func NewServer(
	engine *search.Engine,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
	rec *metrics.Recorder,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		storage: storage,
		config:  cfg,
		metrics: rec,
		logger:  logger,
		started: time.Now(),
	}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/organizations/{orgID}", func(r chi.Router) {
			r.Post("/rag/query", s.handleRAGQuery)
			r.Post("/rag/similar", s.handleFindSimilar)
			r.Delete("/embedding-cache", s.handleInvalidateCache)
		})
		r.Delete("/embedding-cache", s.handleInvalidateAll)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	if s.metrics != nil && s.config.Metrics.EnabledOrDefault() {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
