package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragd/internal/metrics"
	"github.com/hyperjump/ragd/internal/models"
)

type engineFixture struct {
	store    *fakeStore
	catalog  *fakeCatalog
	provider *fakeProvider
	engine   *Engine
}

func newFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    newFakeStore(),
		catalog:  newFakeCatalog(),
		provider: &fakeProvider{vec: []float32{1, 0, 0}, off: map[string]bool{}},
	}
	f.engine = NewEngine(f.store, f.catalog, f.provider, testRetrievalConfig(), opts...)
	return f
}

func (f *engineFixture) query(t *testing.T, orgID string, q models.RAGQuery) *models.RetrievalResult {
	t.Helper()
	if q.Query == "" {
		q.Query = "payment terms"
	}
	res, err := f.engine.RAGQuery(context.Background(), orgID, q)
	require.NoError(t, err)
	return res
}

func TestRAGQuery_ExactMatchRanksFirst(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1",
		row("c1", "d1", 0, 0, 1, 0),
		row("c2", "d1", 1, 1, 0, 0),
		row("c3", "d2", 0, 0, 0, 1),
		row("c4", "d2", 1, 0.3, 0.9, 0.1),
		row("c5", "d3", 0, -1, 0, 0),
	)
	f.catalog.names["d1"] = "合約.pdf"

	res := f.query(t, "org1", models.RAGQuery{})
	require.NotNil(t, res)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d1", res.Sources[0].DocumentID)
	assert.Equal(t, 1, res.Sources[0].ChunkIndex)
	assert.Equal(t, 1.0, res.Sources[0].Score)
	assert.Equal(t, "[文件 1: 合約.pdf (相關度: 100%)]\ncontent c2", res.Context)
}

func TestRAGQuery_NoEmbeddedChunks(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", &models.ChunkRow{ID: "raw", DocumentID: "d1"})

	res := f.query(t, "org1", models.RAGQuery{})
	require.NotNil(t, res)
	assert.Equal(t, "", res.Context)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
	assert.Equal(t, 0, f.catalog.nameCalls, "no name lookup for an empty result")
}

func TestRAGQuery_CustomerWithoutDocuments(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))

	res := f.query(t, "org1", models.RAGQuery{CustomerID: "nobody"})
	require.NotNil(t, res)
	assert.Empty(t, res.Sources)
	assert.Equal(t, "", res.Context)

	full, scoped := f.store.loads()
	assert.Equal(t, 0, full)
	assert.Equal(t, 1, scoped)
	assert.Equal(t, 0, f.engine.CacheStats().Entries)
}

func TestRAGQuery_CustomerScope(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0), row("c2", "d2", 0, 1, 0, 0))
	f.catalog.customers["acme"] = []string{"d2"}

	res := f.query(t, "org1", models.RAGQuery{CustomerID: "acme"})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d2", res.Sources[0].DocumentID)
	assert.Equal(t, UnknownDocumentName, res.Sources[0].DocumentName)
}

func TestRAGQuery_DocumentIDsTakePrecedence(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0), row("c2", "d2", 0, 1, 0, 0))
	f.catalog.customers["acme"] = []string{"d2"}

	res := f.query(t, "org1", models.RAGQuery{DocumentIDs: []string{"d1"}, CustomerID: "acme"})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d1", res.Sources[0].DocumentID)

	res = f.query(t, "org1", models.RAGQuery{DocumentIDs: []string{}})
	assert.Empty(t, res.Sources, "explicit empty scope matches nothing")
}

func TestRAGQuery_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.provider.off["org1"] = true
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))

	res, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
	assert.NoError(t, err)
	assert.Nil(t, res)
	full, scoped := f.store.loads()
	assert.Zero(t, full+scoped)
	assert.Zero(t, f.provider.calls)
}

func TestRAGQuery_ProviderFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("503 from provider")
	res, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestRAGQuery_ProviderTimeoutIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.engine.embedTimeout = 20 * time.Millisecond
	f.provider.hang = true
	res, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestRAGQuery_CallerDeadlineIsTimeout(t *testing.T) {
	f := newFixture(t)
	f.provider.hang = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.engine.RAGQuery(ctx, "org1", models.RAGQuery{Query: "q"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	canceled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = f.engine.RAGQuery(canceled, "org1", models.RAGQuery{Query: "q"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRAGQuery_LoadTimeout(t *testing.T) {
	f := newFixture(t)
	f.engine.loadTimeout = 20 * time.Millisecond
	f.store.block = make(chan struct{})
	defer close(f.store.block)

	_, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q", DocumentIDs: []string{"d1"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRAGQuery_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.store.err = errStoreDown
	res, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRAGQuery_NameLookupFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.catalog.nameErr = errors.New("catalog offline")

	res := f.query(t, "org1", models.RAGQuery{})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, UnknownDocumentName, res.Sources[0].DocumentName)
}

func TestRAGQuery_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.RAGQuery(ctx, "org1", models.RAGQuery{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	bad := 1.5
	_, err = f.engine.RAGQuery(ctx, "org1", models.RAGQuery{Query: "q", MinScore: &bad})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = f.engine.RAGQuery(ctx, "", models.RAGQuery{Query: "q"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestRAGQuery_TopKAndMinScore(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.store.add("org1", row("c", "d1", i, 1, float32(i)*0.1, 0))
	}
	res := f.query(t, "org1", models.RAGQuery{})
	assert.Len(t, res.Sources, 5, "default top_k")

	zero := 0.0
	res = f.query(t, "org1", models.RAGQuery{TopK: 20, MinScore: &zero})
	assert.Len(t, res.Sources, 10)
	for i := 1; i < len(res.Sources); i++ {
		assert.GreaterOrEqual(t, res.Sources[i-1].Score, res.Sources[i].Score)
	}
	assert.Equal(t, 0, res.Sources[0].ChunkIndex)
}

func TestRAGQuery_FullLoadIsCached(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))

	f.query(t, "org1", models.RAGQuery{})
	f.query(t, "org1", models.RAGQuery{})
	full, _ := f.store.loads()
	assert.Equal(t, 1, full)
	stats := f.engine.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRAGQuery_ScopedQueryBypassesCache(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.catalog.customers["acme"] = []string{"d1", "d2"}
	f.query(t, "org1", models.RAGQuery{})
	before := f.engine.CacheStats()

	// the store changes; scoped queries must see it, the cached full entry must not change
	f.store.add("org1", row("c2", "d2", 0, 1, 0, 0))
	res := f.query(t, "org1", models.RAGQuery{DocumentIDs: []string{"d2"}})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d2", res.Sources[0].DocumentID)
	res = f.query(t, "org1", models.RAGQuery{CustomerID: "acme"})
	assert.Len(t, res.Sources, 2)

	assert.Equal(t, before, f.engine.CacheStats(), "scoped queries neither read nor write the cache")
	res = f.query(t, "org1", models.RAGQuery{})
	assert.Len(t, res.Sources, 1, "full query still served from the cached snapshot")
	full, scoped := f.store.loads()
	assert.Equal(t, 1, full)
	assert.Equal(t, 2, scoped)
}

func TestRAGQuery_ScopedQueryOnColdCacheDoesNotPopulate(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.query(t, "org1", models.RAGQuery{DocumentIDs: []string{"d1"}})
	assert.Equal(t, 0, f.engine.CacheStats().Entries)
	f.query(t, "org1", models.RAGQuery{})
	full, _ := f.store.loads()
	assert.Equal(t, 1, full)
}

func TestInvalidateEmbeddingCache_NextQueryReloads(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("old", "d1", 0, 1, 0, 0))
	res := f.query(t, "org1", models.RAGQuery{})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "content old", res.Sources[0].ChunkContent)

	f.store.replace("org1", row("new", "d1", 0, 1, 0, 0))
	res = f.query(t, "org1", models.RAGQuery{})
	assert.Equal(t, "content old", res.Sources[0].ChunkContent, "within TTL the snapshot is served")

	f.engine.InvalidateEmbeddingCache("org1")
	res = f.query(t, "org1", models.RAGQuery{})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "content new", res.Sources[0].ChunkContent)
	full, _ := f.store.loads()
	assert.Equal(t, 2, full)
}

func TestInvalidateAll(t *testing.T) {
	f := newFixture(t)
	for _, org := range []string{"a", "b"} {
		f.store.add(org, row("c", "d", 0, 1, 0, 0))
		f.query(t, org, models.RAGQuery{})
	}
	f.engine.InvalidateAll()
	assert.Equal(t, 0, f.engine.CacheStats().Entries)
	f.query(t, "a", models.RAGQuery{})
	full, _ := f.store.loads()
	assert.Equal(t, 3, full)
}

func TestRAGQuery_FourthTenantEvictsFirst(t *testing.T) {
	clock := newTestClock()
	cache := NewEmbeddingCache(WithClock(clock.now))
	f := newFixture(t, WithCache(cache))
	orgs := []string{"org1", "org2", "org3", "org4"}
	for _, org := range orgs {
		f.store.add(org, row(org+"-c", "d", 0, 1, 0, 0))
	}
	for _, org := range orgs {
		f.query(t, org, models.RAGQuery{})
		clock.advance(time.Second)
		assert.LessOrEqual(t, cache.Len(), 3)
	}
	full, _ := f.store.loads()
	require.Equal(t, 4, full)

	f.query(t, "org1", models.RAGQuery{})
	full, _ = f.store.loads()
	assert.Equal(t, 5, full, "org1 was evicted and reloads")
	assert.Equal(t, uint64(2), cache.Stats().Evictions)

	f.query(t, "org4", models.RAGQuery{})
	full, _ = f.store.loads()
	assert.Equal(t, 5, full, "org4 is still cached")
}

func TestRAGQuery_ConcurrentMissesShareOneLoad(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.store.block = make(chan struct{})
	f.store.started = make(chan struct{}, 1)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*models.RetrievalResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
		}(i)
	}
	<-f.store.started
	time.Sleep(20 * time.Millisecond)
	close(f.store.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Sources, 1)
	}
	full, _ := f.store.loads()
	assert.Equal(t, 1, full)
}

func TestRAGQuery_AbandonedLoadStillPopulatesCache(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.store.block = make(chan struct{})
	f.store.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RAGQuery(ctx, "org1", models.RAGQuery{Query: "q"})
		done <- err
	}()
	<-f.store.started
	cancel()
	assert.ErrorIs(t, <-done, ErrTimeout)

	close(f.store.block)
	assert.Eventually(t, func() bool { return f.engine.CacheStats().Entries == 1 }, time.Second, 5*time.Millisecond)
}

func TestRAGQuery_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	f := newFixture(t)
	f.store.add("org1", row("c1", "d1", 0, 1, 0, 0))
	f.store.block = make(chan struct{})
	f.store.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RAGQuery(context.Background(), "org1", models.RAGQuery{Query: "q"})
		done <- err
	}()
	<-f.store.started
	f.engine.InvalidateEmbeddingCache("org1")
	close(f.store.block)
	require.NoError(t, <-done)
	assert.Equal(t, 0, f.engine.CacheStats().Entries)

	f.store.mu.Lock()
	f.store.block = nil
	f.store.mu.Unlock()
	f.query(t, "org1", models.RAGQuery{})
	full, _ := f.store.loads()
	assert.Equal(t, 2, full)
	assert.Equal(t, 1, f.engine.CacheStats().Entries)
}

func TestFindSimilarChunks(t *testing.T) {
	f := newFixture(t, WithMetrics(metrics.NewRecorder()))
	f.store.add("org1",
		row("a", "d1", 0, 1, 0),
		row("b", "d1", 1, 0.8, 0.6),
		row("c", "d2", 0, 0, 1),
		row("wide", "d2", 1, 1, 0, 0),
	)
	ctx := context.Background()
	zero := 0.0
	got, err := f.engine.FindSimilarChunks(ctx, "org1", models.SimilarQuery{Embedding: []float32{1, 0}, TopK: 10, MinScore: &zero})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ChunkID, got[1].ChunkID, got[2].ChunkID})

	got, err = f.engine.FindSimilarChunks(ctx, "org1", models.SimilarQuery{Embedding: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, got, 2, "default min_score 0.7")
	for _, r := range got {
		assert.GreaterOrEqual(t, r.Score, 0.7)
	}

	got, err = f.engine.FindSimilarChunks(ctx, "org1", models.SimilarQuery{Embedding: []float32{1, 0}, DocumentIDs: []string{"d2"}, MinScore: &zero})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ChunkID)

	_, err = f.engine.FindSimilarChunks(ctx, "org1", models.SimilarQuery{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	full, scoped := f.store.loads()
	assert.Equal(t, 1, full, "unscoped similarity queries share the cache")
	assert.Equal(t, 1, scoped)
}

func TestFindSimilarChunks_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	got, err := f.engine.FindSimilarChunks(context.Background(), "empty-org", models.SimilarQuery{Embedding: []float32{1}})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
