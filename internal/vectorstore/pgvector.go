package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"cv-screener/internal/contextutil"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PgvectorStore implements VectorStore on PostgreSQL with the pgvector extension.
// Each collection is a table with id, metadata JSONB and embedding vector(n) columns.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

// NewPgvectorStore connects to PostgreSQL and registers pgvector types on every pooled connection.
func NewPgvectorStore(ctx context.Context, connString string) (*PgvectorStore, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PgvectorStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// EnsureCollection creates the extension, table and cosine index, or checks the existing column size.
func (s *PgvectorStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	if !tableName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}

	if exists {
		// atttypmod carries the declared dimension of a vector column.
		var actual int
		err := s.pool.QueryRow(ctx,
			`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
			collection,
		).Scan(&actual)
		if err != nil {
			return fmt.Errorf("failed to read embedding dimension: %w", err)
		}
		if actual != vectorSize {
			return fmt.Errorf("collection %s: expected %d, got %d: %w", collection, vectorSize, actual, ErrDimensionMismatch)
		}
		logger.InfoContext(ctx, "collection validated", "collection", collection, "vector_size", vectorSize)
		return nil
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, collection, vectorSize),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, collection, collection),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", collection, err)
		}
	}

	logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", vectorSize)
	return nil
}

// CollectionExists reports whether the collection table exists.
func (s *PgvectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
		collection,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Upsert inserts or updates points in one batch.
func (s *PgvectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if !tableName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, metadata, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
		collection)

	batch := &pgx.Batch{}
	for _, p := range points {
		meta, err := json.Marshal(p.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for point %s: %w", p.ID, err)
		}
		batch.Queue(upsertSQL, p.ID, meta, pgvector.NewVector(p.Vec))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert point %d: %w", i, err)
		}
	}

	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "upserted points", "collection", collection, "count", len(points))
	return nil
}

// Search returns the k nearest points by cosine distance with string equality filters on metadata.
func (s *PgvectorStore) Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}
	if !tableName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}

	filter := map[string]string{}
	for key, v := range filters {
		filter[key] = fmt.Sprint(v)
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}

	// JSONB containment keeps the statement static regardless of the filter keys.
	querySQL := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1
		LIMIT $3`, collection)

	rows, err := s.pool.Query(ctx, querySQL, pgvector.NewVector(query), string(filterJSON), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, k)
	for rows.Next() {
		var r SearchResult
		var metaJSON []byte
		var similarity float64
		if err := rows.Scan(&r.PointID, &metaJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Meta = map[string]any{}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Meta); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
		}
		r.Score = float32(similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// Delete removes points by ID.
func (s *PgvectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if !tableName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", collection), ids)
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}
