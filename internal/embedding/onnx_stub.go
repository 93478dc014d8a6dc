//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXOptions configures a local ONNX sentence-embedding model.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	OutputName string
}

var errONNXUnavailable = errors.New("onnx embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(ONNXOptions) (*ONNXEmbedder, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
