package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/vector"
)

// fakeStore is an in-memory ChunkStore that counts loads and can block them.
type fakeStore struct {
	mu          sync.Mutex
	rows        map[string][]*models.ChunkRow
	fullLoads   int
	scopedLoads int
	err         error
	block       chan struct{}
	started     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]*models.ChunkRow)}
}

func (s *fakeStore) add(orgID string, rows ...*models.ChunkRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[orgID] = append(s.rows[orgID], rows...)
}

func (s *fakeStore) replace(orgID string, rows ...*models.ChunkRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[orgID] = rows
}

func (s *fakeStore) loads() (full, scoped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullLoads, s.scopedLoads
}

func (s *fakeStore) LoadChunks(ctx context.Context, orgID string, documentIDs []string) ([]*models.ChunkRow, error) {
	s.mu.Lock()
	if documentIDs == nil {
		s.fullLoads++
	} else {
		s.scopedLoads++
	}
	rows := append([]*models.ChunkRow(nil), s.rows[orgID]...)
	block, started, err := s.block, s.started, s.err
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if documentIDs == nil {
		return rows, nil
	}
	allowed := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}
	out := rows[:0]
	for _, r := range rows {
		if allowed[r.DocumentID] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	mu        sync.Mutex
	names     map[string]string
	customers map[string][]string
	nameErr   error
	nameCalls int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{names: make(map[string]string), customers: make(map[string][]string)}
}

func (c *fakeCatalog) DocumentNames(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nameCalls++
	if c.nameErr != nil {
		return nil, c.nameErr
	}
	out := make(map[string]string)
	for _, id := range ids {
		if n, ok := c.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (c *fakeCatalog) CustomerDocumentIDs(ctx context.Context, orgID, customerID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.customers[customerID], nil
}

// fakeProvider embeds every query as vec unless the org is switched off.
type fakeProvider struct {
	mu    sync.Mutex
	vec   []float32
	off   map[string]bool
	err   error
	hang  bool
	calls int
}

func (p *fakeProvider) Configured(orgID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.off[orgID]
}

func (p *fakeProvider) Embed(ctx context.Context, orgID, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	vec, err, hang := p.vec, p.err, p.hang
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return vec, nil
}

var errStoreDown = errors.New("connection refused")

func row(id, doc string, index int, emb ...float32) *models.ChunkRow {
	raw := vector.FormatEmbedding(emb)
	return &models.ChunkRow{
		ID:         id,
		DocumentID: doc,
		Content:    "content " + id,
		ChunkIndex: index,
		Embedding:  &raw,
		Dimensions: len(emb),
		Model:      "test-model",
	}
}

func testRetrievalConfig() config.RetrievalConfig {
	cfg := config.RetrievalConfig{}
	cfg.TopK = config.DefaultTopK
	cfg.CacheTTL = config.DefaultCacheTTL
	cfg.MaxCachedOrgs = config.DefaultMaxCachedOrgs
	cfg.LoadTimeout = time.Second
	cfg.EmbedTimeout = time.Second
	return cfg
}
