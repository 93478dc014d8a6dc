// Package models defines core data structures for documents, chunks, queries, and retrieval results.
package models

import "time"

// Document is a catalog entry: a named document owned by one organization and
// optionally attached to a customer.
type Document struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	CustomerID     string    `json:"customer_id,omitempty" db:"customer_id"`
	Name           string    `json:"name" db:"name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ChunkRow is a chunk as persisted by the ingestion pipeline. Embedding holds the
// serialized vector and is nil when the chunk was never embedded.
type ChunkRow struct {
	ID             string  `json:"id" db:"id"`
	OrganizationID string  `json:"organization_id" db:"organization_id"`
	DocumentID     string  `json:"document_id" db:"document_id"`
	Content        string  `json:"content" db:"content"`
	ChunkIndex     int     `json:"chunk_index" db:"chunk_index"`
	Embedding      *string `json:"embedding,omitempty" db:"embedding"`
	Dimensions     int     `json:"embedding_dimensions" db:"embedding_dimensions"`
	Model          string  `json:"embedding_model" db:"embedding_model"`
}

// Chunk is a loaded, embedded chunk ready for scoring. Chunks are immutable
// snapshots once loaded; nothing mutates one in place.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	Embedding  []float32 `json:"-"`
	Dimensions int       `json:"embedding_dimensions"`
	Model      string    `json:"embedding_model"`
}
