// Package corpus loads pre-chunked CV documents into the relational store,
// the vector index and the BM25 index.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/lexical"
	"cv-screener/internal/llm"
	"cv-screener/internal/storage"
	"cv-screener/internal/vectorstore"
)

// DefaultBatchSize is the number of chunk texts sent per embedding call.
const DefaultBatchSize = 32

// DocumentInput is one CV whose text has already been split into chunks.
type DocumentInput struct {
	SourceURL string            `json:"source_url"`
	Title     string            `json:"title"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Chunks    []string          `json:"chunks"`
}

// LoadResult summarizes a Load call.
type LoadResult struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Chunks  int `json:"chunks"`
}

// Stats reports what is currently indexed.
type Stats struct {
	Documents      int `json:"documents"`
	Chunks         int `json:"chunks"`
	LexicalEntries int `json:"lexical_entries"`
}

// Loader writes documents to every index. It is safe for one Load at a time.
type Loader struct {
	documents  storage.DocumentStore
	chunks     storage.ChunkStore
	embedder   llm.Embedder
	vectors    vectorstore.VectorStore
	collection string
	lexical    *lexical.Index
	dimension  int
	batchSize  int
}

// NewLoader creates a Loader. dimension is the configured embedding size;
// vectors of any other length are rejected.
func NewLoader(
	documents storage.DocumentStore,
	chunks storage.ChunkStore,
	embedder llm.Embedder,
	vectors vectorstore.VectorStore,
	collection string,
	lex *lexical.Index,
	dimension int,
) *Loader {
	return &Loader{
		documents:  documents,
		chunks:     chunks,
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		lexical:    lex,
		dimension:  dimension,
		batchSize:  DefaultBatchSize,
	}
}

// Load indexes every input, skipping unchanged documents, then rebuilds the
// BM25 index. Failures of single documents are logged and counted; Load
// returns an error only if some document failed or the rebuild failed.
func (l *Loader) Load(ctx context.Context, inputs []DocumentInput) (LoadResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "starting corpus load", "documents", len(inputs))

	var res LoadResult
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		n, err := l.LoadDocument(ctx, in)
		switch {
		case err != nil:
			res.Failed++
			logger.ErrorContext(ctx, "failed to load document", "source_url", in.SourceURL, "error", err)
			if errors.Is(err, llm.ErrDimensionMismatch) {
				// Every other document would fail the same way.
				return res, err
			}
		case n == 0:
			res.Skipped++
		default:
			res.Loaded++
			res.Chunks += n
		}
	}

	if err := l.RefreshLexical(ctx); err != nil {
		return res, err
	}

	logger.InfoContext(ctx, "corpus load completed",
		"loaded", res.Loaded, "skipped", res.Skipped, "failed", res.Failed, "chunks", res.Chunks)

	if res.Failed > 0 {
		return res, fmt.Errorf("corpus load completed with %d errors", res.Failed)
	}
	return res, nil
}

// LoadDocument indexes one document and returns how many chunks it wrote.
// A document whose content hash is unchanged is skipped and returns 0.
// The BM25 index is not refreshed.
func (l *Loader) LoadDocument(ctx context.Context, in DocumentInput) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	texts := nonBlank(in.Chunks)
	if strings.TrimSpace(in.SourceURL) == "" {
		return 0, errors.New("document has no source_url")
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("document %s has no chunks", in.SourceURL)
	}

	hash := contentHash(in.Title, texts)

	existing, err := l.documents.GetBySourceURL(ctx, in.SourceURL)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to check existing document: %w", err)
	}
	if existing != nil && existing.ContentHash == hash {
		logger.DebugContext(ctx, "skipping unchanged document", "source_url", in.SourceURL, "hash", hash)
		return 0, nil
	}

	// Embed first so a provider failure leaves the stores untouched.
	vectors, err := l.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	// The hash is committed last. Until then an empty hash makes the next
	// load retry a document whose chunks or vectors were not fully written.
	doc := &storage.DocumentRecord{
		SourceURL: in.SourceURL,
		Title:     in.Title,
		Metadata:  in.Metadata,
	}
	if existing != nil {
		doc.ID = existing.ID
	}
	if err := l.documents.Upsert(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to upsert document: %w", err)
	}

	if existing != nil {
		oldIDs, err := l.chunks.ListIDsByDocument(ctx, doc.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to list old chunk IDs: %w", err)
		}
		if len(oldIDs) > 0 {
			// Old vectors must go before their chunks; a stale point would keep
			// serving replaced text.
			if err := l.vectors.Delete(ctx, l.collection, oldIDs); err != nil {
				return 0, fmt.Errorf("failed to delete old vectors: %w", err)
			}
			if err := l.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
				return 0, fmt.Errorf("failed to delete old chunks: %w", err)
			}
		}
	}

	points := make([]vectorstore.Point, len(texts))
	for i, text := range texts {
		rec := &storage.ChunkRecord{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       text,
		}
		if err := l.chunks.Insert(ctx, rec); err != nil {
			return 0, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
		points[i] = vectorstore.Point{
			ID:  rec.ID,
			Vec: vectors[i],
			Meta: vectorstore.ChunkPayload{
				ChunkID:    rec.ID,
				DocumentID: doc.ID,
				Ordinal:    i,
				Text:       text,
				Title:      in.Title,
				SourceURL:  in.SourceURL,
			}.Meta(),
		}
	}

	if err := l.vectors.Upsert(ctx, l.collection, points); err != nil {
		return 0, fmt.Errorf("failed to upsert vectors: %w", err)
	}

	doc.ContentHash = hash
	if err := l.documents.Upsert(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to record content hash: %w", err)
	}

	logger.InfoContext(ctx, "loaded document", "source_url", in.SourceURL, "chunks", len(texts), "title", in.Title)
	return len(texts), nil
}

func (l *Loader) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += l.batchSize {
		end := min(start+l.batchSize, len(texts))
		batch, err := l.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", end-start, len(batch))
		}
		for i, vec := range batch {
			if len(vec) != l.dimension {
				return nil, fmt.Errorf("%w: chunk %d has %d dimensions, configured %d",
					llm.ErrDimensionMismatch, start+i, len(vec), l.dimension)
			}
		}
		out = append(out, batch...)
	}
	return out, nil
}

// RefreshLexical rebuilds the BM25 index from the relational store.
func (l *Loader) RefreshLexical(ctx context.Context) error {
	records, err := l.chunks.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	docs := make([]lexical.Document, len(records))
	for i, rec := range records {
		docs[i] = lexical.Document{ChunkID: rec.ID, Title: rec.DocumentTitle, Text: rec.Text}
	}
	l.lexical.Replace(docs)

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "lexical index rebuilt", "chunks", len(docs))
	return nil
}

// Stats returns document and chunk counts.
func (l *Loader) Stats(ctx context.Context) (Stats, error) {
	docs, err := l.documents.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	chunks, err := l.chunks.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Documents: docs, Chunks: chunks, LexicalEntries: l.lexical.Len()}, nil
}

// ReadInputs decodes a JSON array of documents.
func ReadInputs(r io.Reader) ([]DocumentInput, error) {
	var inputs []DocumentInput
	if err := json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return inputs, nil
}

func nonBlank(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// contentHash identifies a document version by its title and chunk texts.
func contentHash(title string, chunks []string) string {
	h := sha256.New()
	h.Write([]byte(title))
	for _, c := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}
