package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks cv-screener/internal/vectorstore VectorStore

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a collection's vector size differs from the configured embedding dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
// Score is cosine similarity as reported by the backend.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs a similarity search with optional equality filters on payload keys.
	Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, collection string, ids []string) error
}

// CollectionManager is implemented by stores that manage their own collections.
type CollectionManager interface {
	// EnsureCollection creates the collection or verifies its vector size.
	// A size mismatch returns an error wrapping ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error
	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)
}
