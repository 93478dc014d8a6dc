package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIOptions configures an OpenAI-compatible embeddings endpoint.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheSize  int
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit float64
	Burst     int
}

// OpenAIEmbedder calls any OpenAI-compatible /embeddings API (OpenAI, Ollama,
// SiliconFlow, DashScope and similar).
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	cache      *VectorCache
	limiter    *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder for opts.Model.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("openai: dimensions must be positive, got %d", opts.Dimensions)
	}
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	e := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		cache:      NewVectorCache(opts.CacheSize),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return e, nil
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vectors[0])
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Results follow input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("openai: no texts provided")
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openai: rate limit: %w", err)
		}
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("openai: unexpected embedding index %d", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("openai: %w: got %d, want %d", ErrDimensions, len(d.Embedding), e.dimensions)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
