// Package embedding provides query embedding providers and per-organization provider resolution.
package embedding

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when an organization has no embedding provider.
var ErrNotConfigured = errors.New("embedding not configured")

// ErrDimensions is returned when a provider yields a vector of the wrong length.
var ErrDimensions = errors.New("embedding dimension mismatch")

// Embedder produces vector embeddings for text with one model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider embeds text on behalf of an organization. Configured is a cheap
// capability probe; Embed returns ErrNotConfigured when it reports false.
type Provider interface {
	Configured(orgID string) bool
	Embed(ctx context.Context, orgID, text string) ([]float32, error)
}
