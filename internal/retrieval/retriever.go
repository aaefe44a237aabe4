package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/lexical"
	"cv-screener/internal/llm"
	"cv-screener/internal/storage"
	"cv-screener/internal/vectorstore"
)

// LexicalSearcher is the BM25 side of retrieval.
type LexicalSearcher interface {
	Search(query string, limit int) []lexical.Hit
}

// ChunkLookup resolves candidate chunks from the relational store.
type ChunkLookup interface {
	GetByID(ctx context.Context, id string) (*storage.ChunkRecord, error)
}

// Retriever runs semantic and lexical search concurrently, fuses the two
// candidate lists and reranks the pool.
type Retriever struct {
	embedder   llm.Embedder
	vectors    vectorstore.VectorStore
	collection string
	lexical    LexicalSearcher
	chunks     ChunkLookup
	fusion     FusionStrategy
	reranker   Reranker
}

// NewRetriever creates a Retriever. A nil fusion uses WeightedSum with
// DefaultAlpha; a nil reranker keeps the fused order.
func NewRetriever(
	embedder llm.Embedder,
	vectors vectorstore.VectorStore,
	collection string,
	lex LexicalSearcher,
	chunks ChunkLookup,
	fusion FusionStrategy,
	reranker Reranker,
) *Retriever {
	if fusion == nil {
		fusion = WeightedSum{Alpha: DefaultAlpha}
	}
	if reranker == nil {
		reranker = IdentityReranker{}
	}
	return &Retriever{
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		lexical:    lex,
		chunks:     chunks,
		fusion:     fusion,
		reranker:   reranker,
	}
}

// Retrieve returns at most TopK candidates ordered by rerank score.
// Two empty indexes yield an empty result and no error.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (RankedResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidQuery, req.TopK)
	}
	if req.TopK > req.PoolSize {
		return nil, fmt.Errorf("%w: top_k %d exceeds candidate pool %d", ErrInvalidQuery, req.TopK, req.PoolSize)
	}

	var semantic []vectorstore.SearchResult
	var hits []lexical.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := r.embedder.EmbedTexts(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("%w: expected 1 query embedding, got %d", ErrRetrievalUnavailable, len(vecs))
		}
		results, err := r.vectors.Search(gctx, r.collection, vecs[0], req.PoolSize, nil)
		if err != nil {
			return fmt.Errorf("%w: vector search: %v", ErrRetrievalUnavailable, err)
		}
		semantic = results
		return nil
	})
	g.Go(func() error {
		hits = r.lexical.Search(query, req.PoolSize)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "retrieval failed", "error", err)
		return nil, err
	}

	pool, err := r.merge(ctx, semantic, hits)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		logger.InfoContext(ctx, "no candidates retrieved")
		return RankedResult{}, nil
	}

	fuse(pool, r.fusion)
	orderBy(pool, byFused)

	rerankQuery := req.RerankQuery
	if rerankQuery == "" {
		rerankQuery = query
	}
	result := r.reranker.Rerank(rerankQuery, pool, req.TopK)

	logger.DebugContext(ctx, "retrieval complete",
		"semantic_hits", len(semantic),
		"lexical_hits", len(hits),
		"pool", len(pool),
		"returned", len(result),
		"fusion", r.fusion.Name(),
	)
	return result, nil
}

// merge builds the candidate union. A signal a chunk was not found by stays 0.
// Every candidate is resolved from the relational store; hits from either
// index whose chunk no longer exists there are dropped.
func (r *Retriever) merge(ctx context.Context, semantic []vectorstore.SearchResult, hits []lexical.Hit) ([]Candidate, error) {
	byID := make(map[string]int, len(semantic)+len(hits))
	pool := make([]Candidate, 0, len(semantic)+len(hits))

	for _, res := range semantic {
		id := res.ChunkPayload().ChunkID
		if _, dup := byID[id]; dup {
			continue
		}
		rec, err := r.resolve(ctx, id, "vector")
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		byID[id] = len(pool)
		pool = append(pool, Candidate{
			Chunk:         ChunkFromRecord(rec),
			SemanticScore: clamp01(float64(res.Score)),
		})
	}

	for _, hit := range hits {
		if i, ok := byID[hit.ChunkID]; ok {
			pool[i].LexicalScore = hit.Score
			continue
		}
		rec, err := r.resolve(ctx, hit.ChunkID, "lexical")
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		byID[hit.ChunkID] = len(pool)
		pool = append(pool, Candidate{
			Chunk:        ChunkFromRecord(rec),
			LexicalScore: hit.Score,
		})
	}

	for i := range pool {
		if math.IsNaN(pool[i].SemanticScore) {
			pool[i].SemanticScore = 0
		}
	}
	return pool, nil
}

// resolve loads a chunk by ID. A chunk removed since the index was written
// returns nil and no error.
func (r *Retriever) resolve(ctx context.Context, id, index string) (*storage.ChunkRecord, error) {
	rec, err := r.chunks.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "dropping stale index entry", "chunk_id", id, "index", index)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve chunk %s: %v", ErrRetrievalUnavailable, id, err)
	}
	return rec, nil
}

// ChunkFromRecord converts a stored chunk.
func ChunkFromRecord(rec *storage.ChunkRecord) Chunk {
	return Chunk{
		ID:         rec.ID,
		DocumentID: rec.DocumentID,
		Ordinal:    rec.Ordinal,
		Text:       rec.Text,
		Title:      rec.DocumentTitle,
		SourceURL:  rec.SourceURL,
	}
}
