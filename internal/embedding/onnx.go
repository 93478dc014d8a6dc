//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/ragd/pkg/utils"
)

// ONNXOptions configures a local ONNX sentence-embedding model.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	// OutputName is the pooled output tensor name; "output" when empty.
	OutputName string
}

// ONNXEmbedder runs a BERT-style model through ONNX Runtime. Requires CGO and the
// onnxruntime shared library. Inference is serialized because the session
// reuses one set of tensors.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	cache      *VectorCache
	tokenizer  Tokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	mu            sync.Mutex
}

var ortInit struct {
	once sync.Once
	err  error
}

func initializeRuntime() error {
	ortInit.once.Do(func() {
		if ort.IsInitialized() {
			return
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

// NewONNXEmbedder loads the model at opts.ModelPath.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("onnx: dimensions must be positive, got %d", opts.Dimensions)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxToks
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	if err := initializeRuntime(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	e := &ONNXEmbedder{
		dimensions: opts.Dimensions,
		maxTokens:  opts.MaxTokens,
		cache:      NewVectorCache(opts.CacheSize),
		tokenizer:  &SimpleTokenizer{},
	}
	inputShape := ort.NewShape(1, int64(opts.MaxTokens))
	var err error
	if e.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	if e.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	if e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.Dimensions))); err != nil {
		e.destroy()
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("onnx: create session for %s: %w", opts.ModelPath, err)
	}
	return e, nil
}

// Embed returns the unit-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx: embedder closed")
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	emb := make([]float32, e.dimensions)
	copy(emb, e.output.GetData())
	utils.NormalizeL2(emb)
	e.cache.Set(text, emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors. Safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs = nil, nil, nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
