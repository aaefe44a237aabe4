package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cv-screener/internal/cache"
	"cv-screener/internal/guardrail"
	"cv-screener/internal/language"
	"cv-screener/internal/lexical"
	"cv-screener/internal/llm"
	"cv-screener/internal/prompt"
	"cv-screener/internal/query"
	"cv-screener/internal/retrieval"
	"cv-screener/internal/storage"
	"cv-screener/internal/vectorstore"
)

const validAnswer = "Evelyn Hamilton built pipelines on AWS Glue [1].\n\n**Sources consulted:**\n1. Evelyn Hamilton - cvs/evelyn_hamilton.pdf"

// fakeGenerator replies with reply(call) where call counts from 1.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    atomic.Int32
	delay    time.Duration
	reply    func(call int) (string, error)
	messages [][]llm.Message
}

func (g *fakeGenerator) ChatWithMessages(ctx context.Context, messages []llm.Message, _ llm.ChatParams) (string, error) {
	call := int(g.calls.Add(1))
	g.mu.Lock()
	g.messages = append(g.messages, messages)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply(call)
}

func (g *fakeGenerator) Calls() int { return int(g.calls.Load()) }

func (g *fakeGenerator) Messages(call int) []llm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.messages[call-1]
}

func always(answer string) func(int) (string, error) {
	return func(int) (string, error) { return answer, nil }
}

// blockingGenerator waits for its context to end.
type blockingGenerator struct {
	calls atomic.Int32
}

func (g *blockingGenerator) ChatWithMessages(ctx context.Context, _ []llm.Message, _ llm.ChatParams) (string, error) {
	g.calls.Add(1)
	<-ctx.Done()
	return "", ctx.Err()
}

type stubRetriever struct {
	result retrieval.RankedResult
	err    error
	calls  atomic.Int32
	last   atomic.Value
}

func (r *stubRetriever) Retrieve(_ context.Context, req retrieval.Request) (retrieval.RankedResult, error) {
	r.calls.Add(1)
	r.last.Store(req)
	if r.err != nil {
		return nil, r.err
	}
	out := r.result
	if len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

func twoSources() retrieval.RankedResult {
	return retrieval.RankedResult{
		{
			Chunk: retrieval.Chunk{ID: "eh-0", DocumentID: "eh", Title: "Evelyn Hamilton", SourceURL: "cvs/evelyn_hamilton.pdf",
				Text: "Evelyn Hamilton built pipelines on AWS Glue."},
			SemanticScore: 0.82, LexicalScore: 2.1, FusedScore: 1, RerankScore: 0.93, Rank: 1,
		},
		{
			Chunk: retrieval.Chunk{ID: "jd-1", DocumentID: "jd", Ordinal: 1, Title: "Jonathan Dyer", SourceURL: "cvs/jonathan_dyer.pdf",
				Text: "Jonathan managed cloud migrations to AWS for retail clients."},
			SemanticScore: 0.55, LexicalScore: 0.7, FusedScore: 0.4, RerankScore: 0.41, Rank: 2,
		},
	}
}

type recorder struct {
	mu         sync.Mutex
	outcomes   []string
	cache      []string
	violations []string
}

func (r *recorder) ObserveStage(string, time.Duration) {}

func (r *recorder) RecordOutcome(o string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *recorder) RecordCache(o string) {
	r.mu.Lock()
	r.cache = append(r.cache, o)
	r.mu.Unlock()
}

func (r *recorder) RecordViolation(k string) {
	r.mu.Lock()
	r.violations = append(r.violations, k)
	r.mu.Unlock()
}

func testConfig() Config {
	return Config{
		Model:             "test-model",
		TopK:              5,
		PoolSize:          20,
		Alpha:             retrieval.DefaultAlpha,
		Rerank:            true,
		Language:          "en",
		MaxTokens:         500,
		GenerationTimeout: time.Second,
		DegradeOnFailure:  true,
	}
}

func newTestEngine(t *testing.T, cfg Config, r Retriever, gen llm.Generator, opts ...Option) Engine {
	t.Helper()
	detector := language.NewDetector(0)
	analyzer := query.NewAnalyzer(detector, query.Options{
		RequiredLanguage: cfg.Language,
		Policy:           query.PolicyEnforce,
		ShortQueryWords:  3,
	})
	assembler := prompt.NewAssembler(prompt.Options{Language: cfg.Language, MaxAnswerWords: 600})
	validator := guardrail.NewValidator(detector, 600)

	engine, err := NewEngine(cfg, analyzer, r, assembler, validator, gen, opts...)
	require.NoError(t, err)
	return engine
}

func newMemoryCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(cache.NewMemoryBackend(0), cache.Options{TTL: time.Hour})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// hashEmbedder maps each token to a bucket, so texts sharing words have positive cosine.
type hashEmbedder struct{}

const embedDim = 32

func (hashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, embedDim)
		for _, tok := range lexical.FilterStopwords(lexical.Tokenize(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%embedDim]++
		}
		out[i] = vec
	}
	return out, nil
}

type chunkMap map[string]*storage.ChunkRecord

func (m chunkMap) GetByID(_ context.Context, id string) (*storage.ChunkRecord, error) {
	if rec, ok := m[id]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

// newHybridRetriever indexes chunks in memory and returns a real retriever.
func newHybridRetriever(t *testing.T, chunks []retrieval.Chunk) *retrieval.Retriever {
	t.Helper()
	ctx := context.Background()
	vectors := vectorstore.NewMemoryStore()
	require.NoError(t, vectors.EnsureCollection(ctx, "cv_chunks", embedDim))
	lex := lexical.NewIndex()
	lookup := chunkMap{}

	docs := make([]lexical.Document, 0, len(chunks))
	points := make([]vectorstore.Point, 0, len(chunks))
	for _, c := range chunks {
		vecs, err := hashEmbedder{}.EmbedTexts(ctx, []string{c.Text})
		require.NoError(t, err)
		points = append(points, vectorstore.Point{ID: c.ID, Vec: vecs[0], Meta: map[string]any{
			vectorstore.MetaChunkID:    c.ID,
			vectorstore.MetaDocumentID: c.DocumentID,
			vectorstore.MetaOrdinal:    c.Ordinal,
			vectorstore.MetaText:       c.Text,
			vectorstore.MetaTitle:      c.Title,
			vectorstore.MetaSourceURL:  c.SourceURL,
		}})
		docs = append(docs, lexical.Document{ChunkID: c.ID, Title: c.Title, Text: c.Text})
		lookup[c.ID] = &storage.ChunkRecord{ID: c.ID, DocumentID: c.DocumentID, Ordinal: c.Ordinal, Text: c.Text,
			DocumentTitle: c.Title, SourceURL: c.SourceURL}
	}
	if len(points) > 0 {
		require.NoError(t, vectors.Upsert(ctx, "cv_chunks", points))
	}
	lex.Replace(docs)

	return retrieval.NewRetriever(hashEmbedder{}, vectors, "cv_chunks", lex, lookup,
		retrieval.WeightedSum{Alpha: retrieval.DefaultAlpha}, retrieval.OverlapReranker{Weight: retrieval.DefaultRerankWeight})
}

var errProvider = errors.New("provider exploded")
