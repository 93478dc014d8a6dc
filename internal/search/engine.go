// Package search implements organization-scoped semantic retrieval over stored,
// pre-embedded document chunks.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/embedding"
	"github.com/hyperjump/ragd/internal/metrics"
	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/storage"
)

const (
	kindRAG     = "rag"
	kindSimilar = "similar"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) EngineOption {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithCache replaces the cache built from the retrieval config.
func WithCache(c *EmbeddingCache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// Engine answers retrieval queries. It owns the embedding cache; construct one
// per process and share it.
type Engine struct {
	catalog  storage.DocumentCatalog
	provider embedding.Provider
	loader   *ChunkLoader
	cache    *EmbeddingCache
	group    singleflight.Group

	topK         int
	minScore     float64
	loadTimeout  time.Duration
	embedTimeout time.Duration

	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewEngine creates an engine. cfg should have defaults applied.
func NewEngine(
	store storage.ChunkStore,
	catalog storage.DocumentCatalog,
	provider embedding.Provider,
	cfg config.RetrievalConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		catalog:      catalog,
		provider:     provider,
		topK:         cfg.TopK,
		minScore:     cfg.MinScoreOrDefault(),
		loadTimeout:  cfg.LoadTimeout,
		embedTimeout: cfg.EmbedTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewEmbeddingCache(WithTTL(cfg.CacheTTL), WithCapacity(cfg.MaxCachedOrgs))
	}
	if e.topK <= 0 {
		e.topK = config.DefaultTopK
	}
	if e.loadTimeout <= 0 {
		e.loadTimeout = config.DefaultLoadTimeout
	}
	if e.embedTimeout <= 0 {
		e.embedTimeout = config.DefaultEmbedTimeout
	}
	e.loader = NewChunkLoader(store, e.logger, e.metrics)
	return e
}

// RAGQuery retrieves the chunks most similar to q.Query and formats them as
// prompt context. A nil result with a nil error means retrieval is unavailable
// for the organization (embedding not configured, or the provider failed) and
// the caller should proceed without it. No match yields an empty, non-nil
// result. Errors wrap ErrInvalidQuery, ErrTimeout, or a store failure.
func (e *Engine) RAGQuery(ctx context.Context, orgID string, q models.RAGQuery) (*models.RetrievalResult, error) {
	start := time.Now()
	res, err := e.ragQuery(ctx, orgID, q)
	e.metrics.Query(kindRAG, outcome(res, err), time.Since(start))
	return res, err
}

func (e *Engine) ragQuery(ctx context.Context, orgID string, q models.RAGQuery) (*models.RetrievalResult, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidQuery)
	}
	e.applyDefaults(&q.TopK, &q.MinScore)
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutErr("query", err)
	}

	if !e.provider.Configured(orgID) {
		e.debug("embedding not configured", orgID)
		return nil, nil
	}
	queryVec, err := e.embed(ctx, orgID, q.Query)
	if err != nil {
		return nil, err
	}
	if queryVec == nil {
		return nil, nil
	}

	scope, err := e.resolveScope(ctx, orgID, q)
	if err != nil {
		return nil, err
	}
	candidates, err := e.candidates(ctx, orgID, scope)
	if err != nil {
		return nil, err
	}
	ranked := Rank(queryVec, candidates, q.Rank())
	if len(ranked) == 0 {
		return models.EmptyResult(), nil
	}

	names, err := e.catalog.DocumentNames(ctx, orgID, distinctDocumentIDs(ranked))
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutErr("resolve document names", err)
		}
		if e.logger != nil {
			e.logger.Warn("document name lookup failed", zap.String("org_id", orgID), zap.Error(err))
		}
		names = nil
	}
	return BuildResult(ranked, names), nil
}

// FindSimilarChunks ranks the organization's chunks against a precomputed
// embedding. The result is never nil.
func (e *Engine) FindSimilarChunks(ctx context.Context, orgID string, q models.SimilarQuery) ([]models.ScoredChunk, error) {
	start := time.Now()
	res, err := e.findSimilar(ctx, orgID, q)
	o := metrics.OutcomeOK
	switch {
	case err != nil:
		o = errOutcome(err)
	case len(res) == 0:
		o = metrics.OutcomeEmpty
	}
	e.metrics.Query(kindSimilar, o, time.Since(start))
	return res, err
}

func (e *Engine) findSimilar(ctx context.Context, orgID string, q models.SimilarQuery) ([]models.ScoredChunk, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidQuery)
	}
	e.applyDefaults(&q.TopK, &q.MinScore)
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutErr("query", err)
	}
	candidates, err := e.candidates(ctx, orgID, q.DocumentIDs)
	if err != nil {
		return nil, err
	}
	return Rank(q.Embedding, candidates, q.Rank()), nil
}

// InvalidateEmbeddingCache drops the organization's cached chunks. Loads already
// in flight are not stored, and the next query performs a fresh load.
func (e *Engine) InvalidateEmbeddingCache(orgID string) {
	e.cache.Invalidate(orgID)
	e.metrics.CacheEntries(e.cache.Len())
	if e.logger != nil {
		e.logger.Info("embedding cache invalidated", zap.String("org_id", orgID))
	}
}

// InvalidateAll drops every cached organization.
func (e *Engine) InvalidateAll() {
	e.cache.Clear()
	e.metrics.CacheEntries(0)
	if e.logger != nil {
		e.logger.Info("embedding cache cleared")
	}
}

// CacheStats returns a snapshot of the cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

func (e *Engine) applyDefaults(topK *int, minScore **float64) {
	if *topK == 0 {
		*topK = e.topK
	}
	if *minScore == nil {
		ms := e.minScore
		*minScore = &ms
	}
}

// embed returns nil, nil when the provider fails while the caller's context is still live.
func (e *Engine) embed(ctx context.Context, orgID, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()
	vec, err := e.provider.Embed(embedCtx, orgID, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, timeoutErr("embed query", ctx.Err())
	}
	e.metrics.EmbedFailure()
	if e.logger != nil {
		e.logger.Warn("query embedding failed, retrieval unavailable",
			zap.String("org_id", orgID), zap.Error(err))
	}
	return nil, nil
}

// resolveScope returns nil for every document, or the explicit (possibly empty) document set.
func (e *Engine) resolveScope(ctx context.Context, orgID string, q models.RAGQuery) ([]string, error) {
	if q.DocumentIDs != nil {
		return q.DocumentIDs, nil
	}
	if q.CustomerID == "" {
		return nil, nil
	}
	ids, err := e.catalog.CustomerDocumentIDs(ctx, orgID, q.CustomerID)
	if err != nil {
		return nil, storeErr(ctx, "resolve customer documents", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// candidates returns the chunks to score. Only the unrestricted load goes through the cache.
func (e *Engine) candidates(ctx context.Context, orgID string, documentIDs []string) ([]*models.Chunk, error) {
	if documentIDs != nil {
		loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
		defer cancel()
		chunks, _, err := e.loader.Load(loadCtx, orgID, documentIDs)
		if err != nil {
			return nil, storeErr(loadCtx, "load chunks", err)
		}
		return chunks, nil
	}

	if chunks, ok := e.cache.Get(orgID); ok {
		e.metrics.CacheHit()
		return chunks, nil
	}
	e.metrics.CacheMiss()
	return e.loadShared(ctx, orgID)
}

// loadShared performs the full load for orgID once for all concurrent callers.
// The load runs detached from any single caller, bounded by the load timeout;
// each caller stops waiting when its own context ends.
func (e *Engine) loadShared(ctx context.Context, orgID string) ([]*models.Chunk, error) {
	gen := e.cache.generation(orgID)
	key := fmt.Sprintf("%s\x00%d.%d", orgID, gen.epoch, gen.org)
	ch := e.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.loadTimeout)
		defer cancel()
		chunks, cacheable, err := e.loader.Load(loadCtx, orgID, nil)
		if err != nil {
			return nil, storeErr(loadCtx, "load chunks", err)
		}
		if cacheable {
			evicted, stored := e.cache.putIfCurrent(orgID, gen, chunks)
			if evicted != "" {
				e.metrics.CacheEviction()
				if e.logger != nil {
					e.logger.Debug("evicted organization from embedding cache",
						zap.String("evicted_org_id", evicted), zap.String("org_id", orgID))
				}
			}
			if !stored {
				e.debug("cache invalidated during load, result not stored", orgID)
			}
			e.metrics.CacheEntries(e.cache.Len())
		}
		return chunks, nil
	})

	select {
	case <-ctx.Done():
		return nil, timeoutErr("load chunks", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*models.Chunk), nil
	}
}

func (e *Engine) debug(msg, orgID string) {
	if e.logger != nil {
		e.logger.Debug(msg, zap.String("org_id", orgID))
	}
}

func timeoutErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
}

// storeErr classifies a store failure as a timeout when ctx has ended.
func storeErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || isContextErr(err) {
		return timeoutErr(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func outcome(res *models.RetrievalResult, err error) string {
	switch {
	case err != nil:
		return errOutcome(err)
	case res == nil:
		return metrics.OutcomeUnavailable
	case len(res.Sources) == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}

func errOutcome(err error) string {
	if isTimeout(err) {
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}
