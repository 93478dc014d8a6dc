// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ragd/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		customer_id TEXT,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(organization_id);
	CREATE INDEX IF NOT EXISTS idx_documents_org_customer ON documents(organization_id, customer_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding TEXT,
		embedding_dimensions INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_org_document_chunk ON document_chunks(organization_id, document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	doc.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, organization_id, customer_id, name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.OrganizationID, nullString(doc.CustomerID), doc.Name, doc.CreatedAt,
	)
	return err
}

// GetDocument returns a document by ID within an organization.
func (s *SQLiteStorage) GetDocument(ctx context.Context, orgID, id string) (*models.Document, error) {
	var doc models.Document
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, customer_id, name, created_at
		 FROM documents WHERE organization_id = ? AND id = ?`, orgID, id,
	).Scan(&doc.ID, &doc.OrganizationID, &customerID, &doc.Name, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	doc.CustomerID = customerID.String
	return &doc, nil
}

// DeleteDocument removes a document and its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, orgID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE organization_id = ? AND document_id = ?`, orgID, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE organization_id = ? AND id = ?`, orgID, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DocumentNames returns document names keyed by ID, in a single query.
func (s *SQLiteStorage) DocumentNames(ctx context.Context, orgID string, documentIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(documentIDs))
	if len(documentIDs) == 0 {
		return names, nil
	}
	args := make([]interface{}, 0, len(documentIDs)+1)
	args = append(args, orgID)
	for _, id := range documentIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM documents
		 WHERE organization_id = ? AND id IN (`+placeholders(len(documentIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// CustomerDocumentIDs returns the IDs of every document attached to customerID.
func (s *SQLiteStorage) CustomerDocumentIDs(ctx context.Context, orgID, customerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE organization_id = ? AND customer_id = ? ORDER BY id`,
		orgID, customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadChunks returns chunk rows for an organization, optionally limited to documentIDs.
func (s *SQLiteStorage) LoadChunks(ctx context.Context, orgID string, documentIDs []string) ([]*models.ChunkRow, error) {
	if documentIDs != nil && len(documentIDs) == 0 {
		return []*models.ChunkRow{}, nil
	}
	query := `SELECT id, organization_id, document_id, content, chunk_index, embedding, embedding_dimensions, embedding_model
		 FROM document_chunks WHERE organization_id = ?`
	args := []interface{}{orgID}
	if documentIDs != nil {
		query += ` AND document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY document_id, chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []*models.ChunkRow{}
	for rows.Next() {
		var chunk models.ChunkRow
		var embedding sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.OrganizationID, &chunk.DocumentID, &chunk.Content,
			&chunk.ChunkIndex, &embedding, &chunk.Dimensions, &chunk.Model); err != nil {
			return nil, err
		}
		if embedding.Valid {
			raw := embedding.String
			chunk.Embedding = &raw
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, orgID, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE organization_id = ? AND document_id = ?`, orgID, docID)
	return err
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.ChunkRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks
		 (id, organization_id, document_id, content, chunk_index, embedding, embedding_dimensions, embedding_model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		var embedding sql.NullString
		if chunk.Embedding != nil {
			embedding = sql.NullString{String: *chunk.Embedding, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.OrganizationID, chunk.DocumentID, chunk.Content,
			chunk.ChunkIndex, embedding, chunk.Dimensions, chunk.Model, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountDocuments returns the number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, orgID string) (int64, error) {
	return s.count(ctx, "documents", orgID)
}

// CountChunks returns the number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context, orgID string) (int64, error) {
	return s.count(ctx, "document_chunks", orgID)
}

func (s *SQLiteStorage) count(ctx context.Context, table, orgID string) (int64, error) {
	var count int64
	if orgID == "" {
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
		return count, err
	}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE organization_id = ?`, orgID).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
