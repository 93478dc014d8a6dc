// Package storage defines the persistence interfaces for the document catalog and chunk store.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragd/internal/models"
)

// ChunkStore reads persisted chunk rows for one organization.
type ChunkStore interface {
	// LoadChunks returns the organization's chunk rows, ordered by document and
	// chunk index. A nil documentIDs means every document; a non-nil empty slice
	// matches nothing.
	LoadChunks(ctx context.Context, orgID string, documentIDs []string) ([]*models.ChunkRow, error)
}

// DocumentCatalog resolves document display names and customer ownership.
type DocumentCatalog interface {
	// DocumentNames returns names keyed by document ID. Unknown IDs are absent.
	DocumentNames(ctx context.Context, orgID string, documentIDs []string) (map[string]string, error)
	// CustomerDocumentIDs returns the IDs of every document attached to customerID.
	CustomerDocumentIDs(ctx context.Context, orgID, customerID string) ([]string, error)
}

// Storage is the full store used by the server and the import command.
type Storage interface {
	ChunkStore
	DocumentCatalog

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, orgID, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, orgID, id string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.ChunkRow) error
	DeleteChunksByDocumentID(ctx context.Context, orgID, docID string) error

	// Stats; an empty orgID counts across organizations.
	CountDocuments(ctx context.Context, orgID string) (int64, error)
	CountChunks(ctx context.Context, orgID string) (int64, error)

	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the store for driver. For sqlite, target is a database path; for
// postgres, a connection string.
func Open(driver, target string) (Storage, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStorage(target)
	case DriverPostgres:
		return NewPostgresStorage(target)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s (supported: sqlite, postgres)", driver)
	}
}
