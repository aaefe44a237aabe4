package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks cv-screener/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DocumentStore defines the interface for document storage operations.
type DocumentStore interface {
	// GetBySourceURL gets a document by its source URL.
	// Returns nil and ErrNotFound if not found.
	GetBySourceURL(ctx context.Context, sourceURL string) (*DocumentRecord, error)
	// GetByID gets a document by ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*DocumentRecord, error)
	// Upsert inserts a new document or updates an existing one keyed by source URL.
	Upsert(ctx context.Context, doc *DocumentRecord) error
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// DocumentRepo implements DocumentStore on SQLite.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = "id, source_url, title, content_hash, metadata, updated_at"

// GetBySourceURL gets a document by its source URL.
func (r *DocumentRepo) GetBySourceURL(ctx context.Context, sourceURL string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE source_url = ?", sourceURL)
	return scanDocument(row)
}

// GetByID gets a document by ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// Upsert inserts a new document or updates an existing one.
// A new UUID is generated for unseen source URLs; existing documents keep their ID.
func (r *DocumentRepo) Upsert(ctx context.Context, doc *DocumentRecord) error {
	existing, err := r.GetBySourceURL(ctx, doc.SourceURL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check existing document: %w", err)
	}

	if existing != nil {
		doc.ID = existing.ID
	} else if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode document metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_url, title, content_hash, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (source_url) DO UPDATE SET
		 title = excluded.title, content_hash = excluded.content_hash,
		 metadata = excluded.metadata, updated_at = CURRENT_TIMESTAMP`,
		doc.ID, doc.SourceURL, doc.Title, doc.ContentHash, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// Count returns the number of stored documents.
func (r *DocumentRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func scanDocument(row *sql.Row) (*DocumentRecord, error) {
	var doc DocumentRecord
	var meta, updatedAt string

	err := row.Scan(&doc.ID, &doc.SourceURL, &doc.Title, &doc.ContentHash, &meta, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	if doc.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, fmt.Errorf("failed to decode document metadata: %w", err)
	}
	if doc.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}

	return &doc, nil
}
