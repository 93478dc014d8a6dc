package search

import (
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/ragd/internal/models"
)

const (
	// UnknownDocumentName labels sources whose document is missing from the catalog.
	UnknownDocumentName = "未知文件"
	blockSeparator      = "\n\n---\n\n"
)

// BuildResult turns ranked chunks into sources and the prompt context. names
// maps document IDs to display names.
func BuildResult(ranked []models.ScoredChunk, names map[string]string) *models.RetrievalResult {
	if len(ranked) == 0 {
		return models.EmptyResult()
	}
	sources := make([]models.Source, len(ranked))
	for i, r := range ranked {
		name, ok := names[r.DocumentID]
		if !ok || name == "" {
			name = UnknownDocumentName
		}
		sources[i] = models.Source{
			DocumentID:   r.DocumentID,
			DocumentName: name,
			ChunkContent: r.Content,
			ChunkIndex:   r.ChunkIndex,
			Score:        r.Score,
		}
	}
	return &models.RetrievalResult{Context: FormatContext(sources), Sources: sources}
}

// FormatContext renders one block per source:
//
//	[文件 1: name (相關度: 92%)]
//	content
//
// Blocks are joined by a horizontal rule.
func FormatContext(sources []models.Source) string {
	var b strings.Builder
	for i, s := range sources {
		if i > 0 {
			b.WriteString(blockSeparator)
		}
		fmt.Fprintf(&b, "[文件 %d: %s (相關度: %d%%)]\n%s", i+1, s.DocumentName, int(math.Round(s.Score*100)), s.ChunkContent)
	}
	return b.String()
}

// distinctDocumentIDs returns the document IDs of ranked in first-seen order.
func distinctDocumentIDs(ranked []models.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(ranked))
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		ids = append(ids, r.DocumentID)
	}
	return ids
}
