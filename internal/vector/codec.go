package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformedEmbedding is returned when a stored embedding cannot be parsed.
	ErrMalformedEmbedding = errors.New("malformed embedding")
	// ErrDimensionMismatch is returned when a parsed embedding disagrees with its declared dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ParseEmbedding decodes a serialized embedding ("[0.1,0.2,...]") and checks it
// against the declared dimensionality. The JSON array form and the pgvector text
// form are the same on the wire, so rows from either store decode here.
func ParseEmbedding(raw string, dimensions int) ([]float32, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: declared dimensions %d", ErrDimensionMismatch, dimensions)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedEmbedding)
	}
	var values []float64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEmbedding, err)
	}
	if len(values) != dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(values), dimensions)
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		f := float32(v)
		if math.IsInf(float64(f), 0) || math.IsNaN(float64(f)) {
			return nil, fmt.Errorf("%w: non-finite value at %d", ErrMalformedEmbedding, i)
		}
		vec[i] = f
	}
	return vec, nil
}

// FormatEmbedding serializes an embedding in the form ParseEmbedding accepts.
func FormatEmbedding(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
