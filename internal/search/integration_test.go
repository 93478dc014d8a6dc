package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/embedding"
	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/search"
	"github.com/hyperjump/ragd/internal/storage"
	"github.com/hyperjump/ragd/internal/vector"
)

func TestIntegration_SQLiteWithMockProvider(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	const dims = 16
	emb := embedding.NewMockEmbedder(dims)
	texts := map[string][]string{
		"contract": {"Payment is due within thirty days of invoice.", "Either party may terminate with notice."},
		"handbook": {"Employees accrue vacation monthly.", "Remote work requires manager approval."},
	}
	names := map[string]string{"contract": "服務合約.pdf", "handbook": "Employee Handbook.md"}
	for docID, chunks := range texts {
		require.NoError(t, store.CreateDocument(ctx, &models.Document{
			ID: docID, OrganizationID: "org1", CustomerID: "acme", Name: names[docID],
		}))
		rows := make([]*models.ChunkRow, len(chunks))
		for i, text := range chunks {
			vec, err := emb.Embed(ctx, text)
			require.NoError(t, err)
			raw := vector.FormatEmbedding(vec)
			rows[i] = &models.ChunkRow{
				ID: docID + "-" + string(rune('0'+i)), OrganizationID: "org1", DocumentID: docID,
				Content: text, ChunkIndex: i, Embedding: &raw, Dimensions: dims, Model: "mock",
			}
		}
		require.NoError(t, store.BatchCreateChunks(ctx, rows))
	}

	cfg := &config.Config{}
	cfg.Embedding.Default = config.ProviderConfig{Provider: config.ProviderMock, Dimensions: dims}
	cfg.Embedding.Organizations = map[string]config.ProviderConfig{"org-off": {Provider: config.ProviderNone}}
	config.ApplyDefaults(cfg)
	resolver := embedding.NewResolver(cfg.Embedding)
	defer resolver.Close()

	engine := search.NewEngine(store, store, resolver, cfg.Retrieval)

	res, err := engine.RAGQuery(ctx, "org1", models.RAGQuery{Query: "Payment is due within thirty days of invoice."})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "contract", res.Sources[0].DocumentID)
	assert.Equal(t, "服務合約.pdf", res.Sources[0].DocumentName)
	assert.InDelta(t, 1.0, res.Sources[0].Score, 1e-6)
	assert.Contains(t, res.Context, "[文件 1: 服務合約.pdf (相關度: 100%)]")

	res, err = engine.RAGQuery(ctx, "org-off", models.RAGQuery{Query: "anything"})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = engine.RAGQuery(ctx, "org1", models.RAGQuery{Query: "Payment is due within thirty days of invoice.", CustomerID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, models.EmptyResult(), res)

	vec, _ := emb.Embed(ctx, "Employees accrue vacation monthly.")
	similar, err := engine.FindSimilarChunks(ctx, "org1", models.SimilarQuery{Embedding: vec, DocumentIDs: []string{"handbook"}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "handbook-0", similar[0].ChunkID)
}
