package main

import (
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/embedding"
)

// cacheInvalidator is the part of the engine a reload needs.
type cacheInvalidator interface {
	InvalidateEmbeddingCache(orgID string)
	InvalidateAll()
}

// configReloader applies embedding changes from a re-read config file. Cached
// chunks of an organization whose provider or model changed are dropped, since
// they were embedded in the old vector space.
type configReloader struct {
	path     string
	resolver *embedding.Resolver
	engine   cacheInvalidator
	logger   *zap.Logger
}

func (r *configReloader) reload() {
	cfg, err := config.Load(r.path)
	if err != nil {
		r.logger.Warn("config reload failed; keeping current settings",
			zap.String("path", r.path), zap.Error(err))
		return
	}
	changed, defaultChanged := r.resolver.Update(cfg.Embedding)
	if defaultChanged {
		r.engine.InvalidateAll()
		r.logger.Info("default embedding provider changed; invalidated all cached organizations")
		return
	}
	for _, org := range changed {
		r.engine.InvalidateEmbeddingCache(org)
	}
	if len(changed) > 0 {
		r.logger.Info("invalidated organizations after config reload", zap.Strings("org_ids", changed))
	}
}
