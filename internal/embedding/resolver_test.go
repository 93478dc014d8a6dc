package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragd/internal/config"
)

type fakeEmbedder struct {
	dims   int
	out    int
	closed bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.out), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.out)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Close() error {
	f.closed = true
	return nil
}

type countingFactory struct {
	built map[config.ProviderConfig]*fakeEmbedder
	fail  map[string]bool
}

func newCountingFactory() *countingFactory {
	return &countingFactory{built: make(map[config.ProviderConfig]*fakeEmbedder), fail: make(map[string]bool)}
}

func (c *countingFactory) build(p config.ProviderConfig) (Embedder, error) {
	if c.fail[p.Model] {
		return nil, errors.New("boom")
	}
	e := &fakeEmbedder{dims: p.Dimensions, out: p.Dimensions}
	c.built[p] = e
	return e, nil
}

func mockProvider(model string, dims int) config.ProviderConfig {
	return config.ProviderConfig{Provider: config.ProviderMock, Model: model, Dimensions: dims}
}

func TestResolver_Configured(t *testing.T) {
	f := newCountingFactory()
	f.fail["broken"] = true
	r := NewResolver(config.EmbeddingConfig{
		Default: mockProvider("m1", 4),
		Organizations: map[string]config.ProviderConfig{
			"off":    {Provider: config.ProviderNone},
			"broken": mockProvider("broken", 4),
			"same":   mockProvider("m1", 4),
		},
	}, WithFactory(f.build))

	assert.True(t, r.Configured("anyone"))
	assert.True(t, r.Configured("same"))
	assert.False(t, r.Configured("off"))
	assert.False(t, r.Configured("broken"))
	assert.Len(t, f.built, 1, "identical settings share one embedder")

	_, err := r.Embed(context.Background(), "off", "q")
	assert.ErrorIs(t, err, ErrNotConfigured)

	vec, err := r.Embed(context.Background(), "anyone", "q")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, "m1", r.Model("same"))
}

func TestResolver_EmbedChecksDimensions(t *testing.T) {
	r := NewResolver(config.EmbeddingConfig{Default: mockProvider("m", 4)},
		WithFactory(func(p config.ProviderConfig) (Embedder, error) {
			return &fakeEmbedder{dims: 4, out: 3}, nil
		}))
	_, err := r.Embed(context.Background(), "o", "q")
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestResolver_EmbedBatch(t *testing.T) {
	r := NewResolver(config.EmbeddingConfig{
		Default:       mockProvider("m", 4),
		Organizations: map[string]config.ProviderConfig{"short": mockProvider("short", 5)},
	}, WithFactory(func(p config.ProviderConfig) (Embedder, error) {
		return &fakeEmbedder{dims: p.Dimensions, out: 4}, nil
	}))

	vecs, err := r.EmbedBatch(context.Background(), "o", []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = r.EmbedBatch(context.Background(), "short", []string{"a"})
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestResolver_Update(t *testing.T) {
	f := newCountingFactory()
	base := config.EmbeddingConfig{
		Default: mockProvider("m1", 4),
		Organizations: map[string]config.ProviderConfig{
			"a": mockProvider("ma", 8),
			"b": mockProvider("mb", 8),
		},
	}
	r := NewResolver(base, WithFactory(f.build))
	oldB := f.built[mockProvider("mb", 8)]
	require.NotNil(t, oldB)

	changed, defaultChanged := r.Update(config.EmbeddingConfig{
		Default: mockProvider("m1", 4),
		Organizations: map[string]config.ProviderConfig{
			"a": mockProvider("ma", 8),
			"b": mockProvider("mb2", 8),
			"c": mockProvider("mc", 2),
		},
	})
	assert.Equal(t, []string{"b", "c"}, changed)
	assert.False(t, defaultChanged)
	assert.True(t, oldB.closed, "unused embedder should be closed")
	assert.False(t, f.built[mockProvider("ma", 8)].closed)
	assert.Equal(t, "mb2", r.Model("b"))

	changed, defaultChanged = r.Update(config.EmbeddingConfig{Default: mockProvider("m2", 4)})
	assert.True(t, defaultChanged)
	assert.Equal(t, []string{"a", "b", "c"}, changed)
}

func TestResolver_OverrideEqualToDefaultIsUnchanged(t *testing.T) {
	r := NewResolver(config.EmbeddingConfig{Default: mockProvider("m1", 4)}, WithFactory(newCountingFactory().build))
	changed, defaultChanged := r.Update(config.EmbeddingConfig{
		Default:       mockProvider("m1", 4),
		Organizations: map[string]config.ProviderConfig{"a": mockProvider("m1", 4)},
	})
	assert.Empty(t, changed)
	assert.False(t, defaultChanged)
}

func TestResolver_Close(t *testing.T) {
	f := newCountingFactory()
	r := NewResolver(config.EmbeddingConfig{Default: mockProvider("m1", 4)}, WithFactory(f.build))
	require.NoError(t, r.Close())
	assert.True(t, f.built[mockProvider("m1", 4)].closed)
	assert.False(t, r.Configured("x"))
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(mockProvider("m", 16))
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())

	_, err = NewEmbedder(config.ProviderConfig{Provider: "cohere"})
	assert.Error(t, err)
}
