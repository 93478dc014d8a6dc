package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/storage"
	"github.com/hyperjump/ragd/internal/vector"
)

const maxImportLine = 64 << 20

// importRecord is one JSONL line: a document and its chunks.
type importRecord struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	CustomerID     string        `json:"customer_id"`
	Name           string        `json:"name"`
	Chunks         []importChunk `json:"chunks"`
}

type importChunk struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	ChunkIndex *int      `json:"chunk_index"`
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
}

// batchEmbedder fills in vectors for chunks imported without one.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, orgID string, texts []string) ([][]float32, error)
	Model(orgID string) string
}

type importStats struct {
	Documents     int
	Chunks        int
	Embedded      int
	Organizations []string
}

// importer writes documents and chunks from JSONL into the store. Re-importing a
// document ID replaces the document and all its chunks.
type importer struct {
	store    storage.Storage
	embedder batchEmbedder // nil leaves chunks without a vector unembedded
	org      string        // overrides organization_id when set
	logger   *zap.Logger
}

func (im *importer) Import(ctx context.Context, r io.Reader) (importStats, error) {
	var stats importStats
	orgs := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxImportLine)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec importRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		n, embedded, err := im.importRecord(ctx, &rec)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Documents++
		stats.Chunks += n
		stats.Embedded += embedded
		if _, ok := orgs[rec.OrganizationID]; !ok {
			orgs[rec.OrganizationID] = struct{}{}
			stats.Organizations = append(stats.Organizations, rec.OrganizationID)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read import: %w", err)
	}
	return stats, nil
}

func (im *importer) importRecord(ctx context.Context, rec *importRecord) (chunks, embedded int, err error) {
	if im.org != "" {
		rec.OrganizationID = im.org
	}
	if rec.OrganizationID == "" {
		return 0, 0, fmt.Errorf("organization_id is required")
	}
	if rec.Name == "" {
		return 0, 0, fmt.Errorf("name is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	embedded, err = im.fillEmbeddings(ctx, rec)
	if err != nil {
		return 0, 0, err
	}

	if err := im.store.DeleteDocument(ctx, rec.OrganizationID, rec.ID); err != nil {
		return 0, 0, fmt.Errorf("replace document %s: %w", rec.ID, err)
	}
	doc := &models.Document{
		ID:             rec.ID,
		OrganizationID: rec.OrganizationID,
		CustomerID:     rec.CustomerID,
		Name:           rec.Name,
	}
	if err := im.store.CreateDocument(ctx, doc); err != nil {
		return 0, 0, fmt.Errorf("create document %s: %w", rec.ID, err)
	}

	rows := make([]*models.ChunkRow, 0, len(rec.Chunks))
	for i, c := range rec.Chunks {
		row := &models.ChunkRow{
			ID:             c.ID,
			OrganizationID: rec.OrganizationID,
			DocumentID:     rec.ID,
			Content:        c.Content,
			ChunkIndex:     i,
			Model:          c.Model,
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if c.ChunkIndex != nil {
			row.ChunkIndex = *c.ChunkIndex
		}
		if len(c.Embedding) > 0 {
			raw := vector.FormatEmbedding(c.Embedding)
			row.Embedding = &raw
			row.Dimensions = len(c.Embedding)
		}
		rows = append(rows, row)
	}
	if err := im.store.BatchCreateChunks(ctx, rows); err != nil {
		return 0, 0, fmt.Errorf("create chunks for %s: %w", rec.ID, err)
	}
	im.logger.Debug("imported document",
		zap.String("org_id", rec.OrganizationID),
		zap.String("document_id", rec.ID),
		zap.Int("chunks", len(rows)),
		zap.Int("embedded", embedded))
	return len(rows), embedded, nil
}

func (im *importer) fillEmbeddings(ctx context.Context, rec *importRecord) (int, error) {
	if im.embedder == nil {
		return 0, nil
	}
	var idx []int
	var texts []string
	for i, c := range rec.Chunks {
		if len(c.Embedding) == 0 && c.Content != "" {
			idx = append(idx, i)
			texts = append(texts, c.Content)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}
	vecs, err := im.embedder.EmbedBatch(ctx, rec.OrganizationID, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks for %s: %w", rec.Name, err)
	}
	model := im.embedder.Model(rec.OrganizationID)
	for j, i := range idx {
		rec.Chunks[i].Embedding = vecs[j]
		if rec.Chunks[i].Model == "" {
			rec.Chunks[i].Model = model
		}
	}
	return len(idx), nil
}
