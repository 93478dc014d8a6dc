package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/config"
)

// Factory builds an Embedder from provider settings.
type Factory func(p config.ProviderConfig) (Embedder, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger for construction failures and config updates.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithFactory replaces the embedder constructor. Used by tests.
func WithFactory(f Factory) ResolverOption {
	return func(r *Resolver) {
		r.factory = f
	}
}

// Resolver maps organizations to embedders. Organizations with identical
// provider settings share one embedder.
type Resolver struct {
	updateMu  sync.Mutex
	mu        sync.RWMutex
	cfg       config.EmbeddingConfig
	embedders map[config.ProviderConfig]Embedder
	factory   Factory
	logger    *zap.Logger
}

// NewResolver builds embedders for every enabled provider in cfg. A provider that
// fails to build is logged and its organizations report Configured false.
func NewResolver(cfg config.EmbeddingConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		embedders: make(map[config.ProviderConfig]Embedder),
		factory:   NewEmbedder,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg = cfg
	r.embedders = r.build(cfg, nil)
	return r
}

// NewEmbedder is the default Factory.
func NewEmbedder(p config.ProviderConfig) (Embedder, error) {
	switch p.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIOptions{
			APIKey:     p.APIKey(),
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			Dimensions: p.Dimensions,
			CacheSize:  p.CacheSize,
			RateLimit:  p.RateLimit,
			Burst:      p.Burst,
		})
	case config.ProviderONNX:
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  p.ModelPath,
			Dimensions: p.Dimensions,
			MaxTokens:  p.MaxTokens,
			CacheSize:  p.CacheSize,
			OutputName: p.OutputName,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ProviderMock:
		return NewMockEmbedder(p.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", p.Provider)
	}
}

// Configured reports whether orgID has a working embedder.
func (r *Resolver) Configured(orgID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.embedders[r.cfg.For(orgID)]
	return ok
}

// Embed embeds text with the organization's provider and checks the vector length.
func (r *Resolver) Embed(ctx context.Context, orgID, text string) ([]float32, error) {
	r.mu.RLock()
	p := r.cfg.For(orgID)
	e, ok := r.embedders[p]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotConfigured
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != p.Dimensions {
		return nil, fmt.Errorf("%w: %s returned %d, want %d", ErrDimensions, p.Provider, len(vec), p.Dimensions)
	}
	return vec, nil
}

// EmbedBatch embeds texts with the organization's provider in one call. Used by
// import to fill in chunks that arrive without a vector.
func (r *Resolver) EmbedBatch(ctx context.Context, orgID string, texts []string) ([][]float32, error) {
	r.mu.RLock()
	p := r.cfg.For(orgID)
	e, ok := r.embedders[p]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotConfigured
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", p.Provider, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != p.Dimensions {
			return nil, fmt.Errorf("%w: %s returned %d, want %d", ErrDimensions, p.Provider, len(v), p.Dimensions)
		}
	}
	return vecs, nil
}

// Model returns the model name configured for orgID.
func (r *Resolver) Model(orgID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.For(orgID).Model
}

// Update swaps in new settings. It returns the organizations whose override was
// added, removed or changed, and whether the default provider changed (which
// affects every organization without an override). Embedders for unchanged
// settings are kept.
func (r *Resolver) Update(cfg config.EmbeddingConfig) (changed []string, defaultChanged bool) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	r.mu.RLock()
	old := r.cfg
	current := r.embedders
	r.mu.RUnlock()

	next := r.build(cfg, current)

	r.mu.Lock()
	r.cfg = cfg
	r.embedders = next
	r.mu.Unlock()

	for p, e := range current {
		if _, kept := next[p]; !kept {
			if err := e.Close(); err != nil && r.logger != nil {
				r.logger.Warn("failed to close embedder", zap.String("provider", p.Provider), zap.Error(err))
			}
		}
	}

	seen := make(map[string]struct{})
	for org := range old.Organizations {
		seen[org] = struct{}{}
	}
	for org := range cfg.Organizations {
		seen[org] = struct{}{}
	}
	for org := range seen {
		_, hadOverride := old.Organizations[org]
		_, hasOverride := cfg.Organizations[org]
		if (hadOverride || hasOverride) && old.For(org) != cfg.For(org) {
			changed = append(changed, org)
		}
	}
	sort.Strings(changed)
	defaultChanged = old.Default != cfg.Default

	if r.logger != nil && (len(changed) > 0 || defaultChanged) {
		r.logger.Info("embedding configuration updated",
			zap.Strings("changed_orgs", changed),
			zap.Bool("default_changed", defaultChanged))
	}
	return changed, defaultChanged
}

// Close releases every embedder.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, e := range r.embedders {
		err = multierr.Append(err, e.Close())
	}
	r.embedders = make(map[config.ProviderConfig]Embedder)
	return err
}

// build constructs embedders for every enabled provider in cfg, reusing those in reuse.
func (r *Resolver) build(cfg config.EmbeddingConfig, reuse map[config.ProviderConfig]Embedder) map[config.ProviderConfig]Embedder {
	wanted := []config.ProviderConfig{cfg.Default}
	for _, p := range cfg.Organizations {
		wanted = append(wanted, p)
	}
	out := make(map[config.ProviderConfig]Embedder)
	for _, p := range wanted {
		if !p.Enabled() {
			continue
		}
		if _, done := out[p]; done {
			continue
		}
		if e, ok := reuse[p]; ok {
			out[p] = e
			continue
		}
		e, err := r.factory(p)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("embedding provider unavailable",
					zap.String("provider", p.Provider),
					zap.String("model", p.Model),
					zap.Error(err))
			}
			continue
		}
		out[p] = e
	}
	return out
}
