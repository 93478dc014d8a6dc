package search

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/metrics"
	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/storage"
	"github.com/hyperjump/ragd/internal/vector"
)

// Reasons a stored row is not used for scoring.
const (
	dropMissing   = "missing_embedding"
	dropMalformed = "malformed"
	dropDimension = "dimension_mismatch"
)

// Load scopes.
const (
	scopeAll    = "all"
	scopeScoped = "scoped"
)

// ChunkLoader turns stored rows into scoring candidates. Rows without a usable
// embedding are skipped and logged; they never fail the load.
type ChunkLoader struct {
	store   storage.ChunkStore
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewChunkLoader creates a loader over store. logger and rec may be nil.
func NewChunkLoader(store storage.ChunkStore, logger *zap.Logger, rec *metrics.Recorder) *ChunkLoader {
	return &ChunkLoader{store: store, logger: logger, metrics: rec}
}

// Load fetches orgID's chunks, restricted to documentIDs when non-nil. The
// result is cacheable only for the unrestricted load.
func (l *ChunkLoader) Load(ctx context.Context, orgID string, documentIDs []string) (chunks []*models.Chunk, cacheable bool, err error) {
	scope := scopeAll
	if documentIDs != nil {
		scope = scopeScoped
	}
	start := time.Now()
	rows, err := l.store.LoadChunks(ctx, orgID, documentIDs)
	if err != nil {
		return nil, false, err
	}

	chunks = make([]*models.Chunk, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		c, reason, perr := toChunk(row)
		if perr != nil || reason != "" {
			dropped++
			l.drop(orgID, row, reason, perr)
			continue
		}
		chunks = append(chunks, c)
	}
	l.metrics.ChunkLoad(scope, len(chunks), time.Since(start))
	if l.logger != nil {
		l.logger.Debug("loaded chunks",
			zap.String("org_id", orgID),
			zap.String("scope", scope),
			zap.Int("rows", len(rows)),
			zap.Int("usable", len(chunks)),
			zap.Int("dropped", dropped),
			zap.Duration("elapsed", time.Since(start)))
	}
	return chunks, documentIDs == nil, nil
}

func toChunk(row *models.ChunkRow) (*models.Chunk, string, error) {
	if row.Embedding == nil {
		return nil, dropMissing, nil
	}
	vec, err := vector.ParseEmbedding(*row.Embedding, row.Dimensions)
	if err != nil {
		if errors.Is(err, vector.ErrDimensionMismatch) {
			return nil, dropDimension, err
		}
		return nil, dropMalformed, err
	}
	return &models.Chunk{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		Content:    row.Content,
		ChunkIndex: row.ChunkIndex,
		Embedding:  vec,
		Dimensions: row.Dimensions,
		Model:      row.Model,
	}, "", nil
}

func (l *ChunkLoader) drop(orgID string, row *models.ChunkRow, reason string, err error) {
	l.metrics.DroppedRow(reason)
	if l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("org_id", orgID),
		zap.String("chunk_id", row.ID),
		zap.String("document_id", row.DocumentID),
		zap.String("reason", reason),
	}
	if reason == dropMissing {
		// not yet embedded by ingestion
		l.logger.Debug("skipping chunk", fields...)
		return
	}
	l.logger.Warn("dropping chunk with unusable embedding", append(fields, zap.Error(err))...)
}
