// Package config provides configuration loading and structs for the ragd server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding provider kinds.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the chunk store. DSN may reference environment
// variables as ${NAME}.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DatabasePath string `yaml:"database_path"`
	DSN          string `yaml:"dsn"`
}

// Target returns the driver-specific connection target.
func (s StorageConfig) Target() string {
	if s.Driver == "postgres" {
		return os.ExpandEnv(s.DSN)
	}
	return s.DatabasePath
}

// EmbeddingConfig holds the default provider and per-organization overrides.
// An override replaces the default entirely for that organization.
type EmbeddingConfig struct {
	Default       ProviderConfig            `yaml:"default"`
	Organizations map[string]ProviderConfig `yaml:"organizations"`
}

// ProviderConfig describes one embedding provider.
type ProviderConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`

	// openai
	BaseURL   string  `yaml:"base_url"`
	APIKeyEnv string  `yaml:"api_key_env"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// onnx
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
	OutputName string `yaml:"output_name"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Enabled reports whether the provider produces embeddings at all.
func (p ProviderConfig) Enabled() bool {
	return p.Provider != "" && p.Provider != ProviderNone
}

// For returns the provider settings that apply to orgID.
func (e EmbeddingConfig) For(orgID string) ProviderConfig {
	if p, ok := e.Organizations[orgID]; ok {
		return p
	}
	return e.Default
}

// RetrievalConfig holds defaults and limits for the retrieval engine.
type RetrievalConfig struct {
	TopK          int           `yaml:"top_k"`
	MinScore      *float64      `yaml:"min_score"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MaxCachedOrgs int           `yaml:"max_cached_orgs"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	EmbedTimeout  time.Duration `yaml:"embed_timeout"`
}

// MinScoreOrDefault returns the configured minimum score.
func (r RetrievalConfig) MinScoreOrDefault() float64 {
	if r.MinScore != nil {
		return *r.MinScore
	}
	return DefaultMinScore
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EnabledOrDefault returns whether metrics are served; defaults to true when unset.
func (m MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes YAML config. Relative paths are resolved against configDir.
func Parse(data []byte, configDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.Default.ModelPath = expandPath(cfg.Embedding.Default.ModelPath, configDir)
	for org, p := range cfg.Embedding.Organizations {
		p.ModelPath = expandPath(p.ModelPath, configDir)
		cfg.Embedding.Organizations[org] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. ":memory:" and "" pass through.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
