package config

import (
	"errors"
	"fmt"
)

// Validate reports the first invalid setting in cfg. Call after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DatabasePath == "" {
			return errors.New("storage.database_path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if err := c.Embedding.Default.Validate(); err != nil {
		return fmt.Errorf("embedding.default: %w", err)
	}
	for org, p := range c.Embedding.Organizations {
		if org == "" {
			return errors.New("embedding.organizations: empty organization id")
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("embedding.organizations.%s: %w", org, err)
		}
	}

	r := c.Retrieval
	if r.TopK < 1 || r.TopK > MaxTopK {
		return fmt.Errorf("retrieval.top_k must be in [1, %d], got %d", MaxTopK, r.TopK)
	}
	if ms := r.MinScoreOrDefault(); ms < -1 || ms > 1 {
		return fmt.Errorf("retrieval.min_score must be in [-1, 1], got %v", ms)
	}
	if r.CacheTTL < 0 || r.LoadTimeout < 0 || r.EmbedTimeout < 0 {
		return errors.New("retrieval durations must not be negative")
	}
	if r.MaxCachedOrgs < 1 {
		return fmt.Errorf("retrieval.max_cached_orgs must be positive, got %d", r.MaxCachedOrgs)
	}
	return nil
}

// Validate checks provider-specific required fields.
func (p ProviderConfig) Validate() error {
	switch p.Provider {
	case ProviderNone:
		return nil
	case ProviderOpenAI:
		if p.Model == "" {
			return errors.New("model is required for openai")
		}
	case ProviderONNX:
		if p.ModelPath == "" {
			return errors.New("model_path is required for onnx")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown provider %q", p.Provider)
	}
	if p.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", p.Dimensions)
	}
	if p.RateLimit < 0 || p.Burst < 0 {
		return errors.New("rate_limit and burst must not be negative")
	}
	return nil
}
