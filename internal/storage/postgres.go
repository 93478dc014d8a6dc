package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/vector"
)

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension.
// Embeddings live in an untyped vector column so tenants on different models can
// coexist; the declared dimensionality is kept next to it.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects with dsn and initializes the schema.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if err := initPostgresSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return &PostgresStorage{db: db}, nil
}

func initPostgresSchema(db *sql.DB) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		customer_id TEXT,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_documents_org_customer ON documents(organization_id, customer_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding vector,
		embedding_dimensions INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_org_document_chunk ON document_chunks(organization_id, document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document.
func (d *PostgresStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	doc.CreatedAt = time.Now()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO documents (id, organization_id, customer_id, name, created_at)
		 VALUES (`+pgPlaceholders(1, 5)+`)`,
		doc.ID, doc.OrganizationID, nullString(doc.CustomerID), doc.Name, doc.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create document")
	}
	return nil
}

// GetDocument returns a document by ID within an organization.
func (d *PostgresStorage) GetDocument(ctx context.Context, orgID, id string) (*models.Document, error) {
	var doc models.Document
	var customerID sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, organization_id, customer_id, name, created_at
		 FROM documents WHERE organization_id = $1 AND id = $2`, orgID, id,
	).Scan(&doc.ID, &doc.OrganizationID, &customerID, &doc.Name, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document")
	}
	doc.CustomerID = customerID.String
	return &doc, nil
}

// DeleteDocument removes a document; chunks cascade.
func (d *PostgresStorage) DeleteDocument(ctx context.Context, orgID, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM documents WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	return nil
}

// DocumentNames returns document names keyed by ID, in a single query.
func (d *PostgresStorage) DocumentNames(ctx context.Context, orgID string, documentIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(documentIDs))
	if len(documentIDs) == 0 {
		return names, nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name FROM documents WHERE organization_id = $1 AND id = ANY($2)`,
		orgID, pq.Array(documentIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list document names")
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "failed to scan document name")
		}
		names[id] = name
	}
	return names, rows.Err()
}

// CustomerDocumentIDs returns the IDs of every document attached to customerID.
func (d *PostgresStorage) CustomerDocumentIDs(ctx context.Context, orgID, customerID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE organization_id = $1 AND customer_id = $2 ORDER BY id`,
		orgID, customerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list customer documents")
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan document id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadChunks returns chunk rows for an organization, optionally limited to documentIDs.
// Embeddings are read in their text form and decoded by the caller.
func (d *PostgresStorage) LoadChunks(ctx context.Context, orgID string, documentIDs []string) ([]*models.ChunkRow, error) {
	if documentIDs != nil && len(documentIDs) == 0 {
		return []*models.ChunkRow{}, nil
	}
	where, args := []string{"organization_id = $1"}, []any{orgID}
	if documentIDs != nil {
		where, args = append(where, "document_id = ANY($2)"), append(args, pq.Array(documentIDs))
	}
	query := `
		SELECT id, organization_id, document_id, content, chunk_index, embedding::text, embedding_dimensions, embedding_model
		FROM document_chunks
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY document_id, chunk_index
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load chunks")
	}
	defer rows.Close()

	chunks := []*models.ChunkRow{}
	for rows.Next() {
		var chunk models.ChunkRow
		var embedding sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.OrganizationID, &chunk.DocumentID, &chunk.Content,
			&chunk.ChunkIndex, &embedding, &chunk.Dimensions, &chunk.Model); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		if embedding.Valid {
			raw := embedding.String
			chunk.Embedding = &raw
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chunks")
	}
	return chunks, nil
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (d *PostgresStorage) DeleteChunksByDocumentID(ctx context.Context, orgID, docID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE organization_id = $1 AND document_id = $2`, orgID, docID)
	if err != nil {
		return errors.Wrap(err, "failed to delete chunks")
	}
	return nil
}

// BatchCreateChunks inserts chunks in a transaction. Serialized embeddings must
// decode to their declared dimensionality.
func (d *PostgresStorage) BatchCreateChunks(ctx context.Context, chunks []*models.ChunkRow) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks
		 (id, organization_id, document_id, content, chunk_index, embedding, embedding_dimensions, embedding_model, created_at)
		 VALUES (`+pgPlaceholders(1, 9)+`)`,
	)
	if err != nil {
		return errors.Wrap(err, "failed to prepare chunk insert")
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		var embedding any
		if chunk.Embedding != nil {
			vec, err := vector.ParseEmbedding(*chunk.Embedding, chunk.Dimensions)
			if err != nil {
				return errors.Wrapf(err, "chunk %s", chunk.ID)
			}
			embedding = pgvector.NewVector(vec)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.OrganizationID, chunk.DocumentID, chunk.Content,
			chunk.ChunkIndex, embedding, chunk.Dimensions, chunk.Model, now); err != nil {
			return errors.Wrapf(err, "failed to insert chunk %s", chunk.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit chunks")
}

// CountDocuments returns the number of documents.
func (d *PostgresStorage) CountDocuments(ctx context.Context, orgID string) (int64, error) {
	return d.count(ctx, "documents", orgID)
}

// CountChunks returns the number of chunks.
func (d *PostgresStorage) CountChunks(ctx context.Context, orgID string) (int64, error) {
	return d.count(ctx, "document_chunks", orgID)
}

func (d *PostgresStorage) count(ctx context.Context, table, orgID string) (int64, error) {
	var count int64
	var err error
	if orgID == "" {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	} else {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE organization_id = $1`, orgID).Scan(&count)
	}
	return count, errors.Wrapf(err, "failed to count %s", table)
}

// Close closes the database connection.
func (d *PostgresStorage) Close() error {
	return d.db.Close()
}

// pgPlaceholders returns "$from, ..., $(from+n-1)".
func pgPlaceholders(from, n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(list, ", ")
}
