package models

import (
	"fmt"
	"math"
)

const (
	// DefaultTopK is the number of sources returned when a query does not set top_k.
	DefaultTopK = 5
	// MaxTopK caps top_k.
	MaxTopK = 100
	// DefaultMinScore is the similarity floor used when a query does not set min_score.
	DefaultMinScore = 0.7
)

// RAGQuery is a retrieval request for one organization.
// DocumentIDs takes precedence over CustomerID; a non-nil empty DocumentIDs is an
// explicit empty scope, not "all documents".
type RAGQuery struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	CustomerID  string   `json:"customer_id,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	MinScore    *float64 `json:"min_score,omitempty"`
}

// SimilarQuery is a nearest-chunk request with a precomputed query embedding.
type SimilarQuery struct {
	Embedding   []float32 `json:"embedding"`
	DocumentIDs []string  `json:"document_ids"`
	TopK        int       `json:"top_k,omitempty"`
	MinScore    *float64  `json:"min_score,omitempty"`
}

// RankOptions are the normalized ranking controls shared by both query kinds.
type RankOptions struct {
	TopK     int
	MinScore float64
}

// Validate ensures the query text is present and normalizes ranking controls.
func (q *RAGQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return validateRank(&q.TopK, q.MinScore)
}

// Validate ensures the embedding is present and normalizes ranking controls.
func (q *SimilarQuery) Validate() error {
	if len(q.Embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}
	return validateRank(&q.TopK, q.MinScore)
}

// Rank returns the ranking controls with defaults applied.
func (q *RAGQuery) Rank() RankOptions {
	return rankOptions(q.TopK, q.MinScore)
}

// Rank returns the ranking controls with defaults applied.
func (q *SimilarQuery) Rank() RankOptions {
	return rankOptions(q.TopK, q.MinScore)
}

func validateRank(topK *int, minScore *float64) error {
	if *topK <= 0 {
		*topK = DefaultTopK
	}
	if *topK > MaxTopK {
		*topK = MaxTopK
	}
	if minScore != nil && (math.IsNaN(*minScore) || *minScore < -1 || *minScore > 1) {
		return fmt.Errorf("min_score must be within [-1, 1], got %v", *minScore)
	}
	return nil
}

func rankOptions(topK int, minScore *float64) RankOptions {
	opts := RankOptions{TopK: topK, MinScore: DefaultMinScore}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if minScore != nil {
		opts.MinScore = *minScore
	}
	return opts
}
