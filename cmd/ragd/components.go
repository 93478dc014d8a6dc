package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/embedding"
	"github.com/hyperjump/ragd/internal/metrics"
	"github.com/hyperjump/ragd/internal/search"
	"github.com/hyperjump/ragd/internal/storage"
)

// Components holds the wired-up services shared by the subcommands.
type Components struct {
	Storage  storage.Storage
	Resolver *embedding.Resolver
	Metrics  *metrics.Recorder
	Engine   *search.Engine
	logger   *zap.Logger
}

// Close releases embedders and the store.
func (c *Components) Close() {
	if c.Resolver != nil {
		if err := c.Resolver.Close(); err != nil {
			c.logger.Warn("closing embedders failed", zap.Error(err))
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			c.logger.Warn("closing storage failed", zap.Error(err))
		}
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	logger.Debug("storage opened", zap.String("driver", cfg.Storage.Driver))

	resolver := embedding.NewResolver(cfg.Embedding, embedding.WithLogger(logger))

	var rec *metrics.Recorder
	if cfg.Metrics.EnabledOrDefault() {
		rec = metrics.NewRecorder()
	}

	engine := search.NewEngine(store, store, resolver, cfg.Retrieval,
		search.WithLogger(logger),
		search.WithMetrics(rec),
	)

	return &Components{
		Storage:  store,
		Resolver: resolver,
		Metrics:  rec,
		Engine:   engine,
		logger:   logger,
	}, nil
}
