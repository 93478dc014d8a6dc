package search

import (
	"sort"

	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/vector"
)

// Rank scores candidates against query, keeps those with score >= MinScore,
// sorts by descending score and truncates to TopK. Equal scores keep candidate
// order. Candidates whose dimensionality differs from the query are skipped.
func Rank(query []float32, candidates []*models.Chunk, opts models.RankOptions) []models.ScoredChunk {
	scored := make([]models.ScoredChunk, 0)
	for _, c := range candidates {
		if len(c.Embedding) != len(query) {
			continue
		}
		score := vector.CosineSimilarity(query, c.Embedding)
		if score < opts.MinScore {
			continue
		}
		scored = append(scored, models.ScoredChunk{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Score:      score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if opts.TopK >= 0 && len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}
	return scored
}
