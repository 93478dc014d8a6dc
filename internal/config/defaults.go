package config

import (
	"time"

	"github.com/hyperjump/ragd/internal/models"
)

// Retrieval defaults.
const (
	DefaultTopK          = models.DefaultTopK
	MaxTopK              = models.MaxTopK
	DefaultMinScore      = models.DefaultMinScore
	DefaultCacheTTL      = 5 * time.Minute
	DefaultMaxCachedOrgs = 3
	DefaultLoadTimeout   = 10 * time.Second
	DefaultEmbedTimeout  = 5 * time.Second
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/ragd/data/ragd.db"
	}

	applyProviderDefaults(&cfg.Embedding.Default)
	for org, p := range cfg.Embedding.Organizations {
		applyProviderDefaults(&p)
		cfg.Embedding.Organizations[org] = p
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.CacheTTL == 0 {
		cfg.Retrieval.CacheTTL = DefaultCacheTTL
	}
	if cfg.Retrieval.MaxCachedOrgs == 0 {
		cfg.Retrieval.MaxCachedOrgs = DefaultMaxCachedOrgs
	}
	if cfg.Retrieval.LoadTimeout == 0 {
		cfg.Retrieval.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Retrieval.EmbedTimeout == 0 {
		cfg.Retrieval.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Provider == "" {
		p.Provider = ProviderNone
	}
	if p.CacheSize == 0 {
		p.CacheSize = 1000
	}
	if p.Provider == ProviderONNX {
		if p.MaxTokens == 0 {
			p.MaxTokens = 256
		}
		if p.Dimensions == 0 {
			p.Dimensions = 384
		}
	}
	if p.Provider == ProviderMock && p.Dimensions == 0 {
		p.Dimensions = 384
	}
}
