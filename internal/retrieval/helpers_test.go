package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"

	"cv-screener/internal/lexical"
	"cv-screener/internal/storage"
	"cv-screener/internal/vectorstore"
)

const (
	testCollection = "cv_chunks"
	testDim        = 32
)

// hashEmbedder maps each token to a bucket, so texts sharing words have positive cosine.
type hashEmbedder struct {
	err error
}

func (e hashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, tok := range lexical.FilterStopwords(lexical.Tokenize(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

type mapLookup map[string]*storage.ChunkRecord

func (m mapLookup) GetByID(_ context.Context, id string) (*storage.ChunkRecord, error) {
	rec, ok := m[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

type failingLookup struct{}

func (failingLookup) GetByID(context.Context, string) (*storage.ChunkRecord, error) {
	return nil, errors.New("database is locked")
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	vecs, err := hashEmbedder{}.EmbedTexts(context.Background(), []string{text})
	require.NoError(t, err)
	return vecs[0]
}

type fixture struct {
	vectors *vectorstore.MemoryStore
	lex     *lexical.Index
	lookup  mapLookup
}

// newFixture indexes chunks in all three stores the way the corpus loader does.
func newFixture(t *testing.T, chunks []Chunk) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		vectors: vectorstore.NewMemoryStore(),
		lex:     lexical.NewIndex(),
		lookup:  mapLookup{},
	}
	require.NoError(t, f.vectors.EnsureCollection(ctx, testCollection, testDim))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	docs := make([]lexical.Document, 0, len(chunks))
	if len(chunks) > 0 {
		vecs, err := hashEmbedder{}.EmbedTexts(ctx, texts)
		require.NoError(t, err)
		points := make([]vectorstore.Point, len(chunks))
		for i, c := range chunks {
			points[i] = vectorstore.Point{ID: c.ID, Vec: vecs[i], Meta: vectorstore.ChunkPayload{
				ChunkID: c.ID, DocumentID: c.DocumentID, Ordinal: c.Ordinal,
				Text: c.Text, Title: c.Title, SourceURL: c.SourceURL,
			}.Meta()}
			docs = append(docs, lexical.Document{ChunkID: c.ID, Title: c.Title, Text: c.Text})
			f.lookup[c.ID] = &storage.ChunkRecord{
				ID: c.ID, DocumentID: c.DocumentID, Ordinal: c.Ordinal, Text: c.Text,
				DocumentTitle: c.Title, SourceURL: c.SourceURL,
			}
		}
		require.NoError(t, f.vectors.Upsert(ctx, testCollection, points))
	}
	f.lex.Replace(docs)
	return f
}

func (f *fixture) retriever(reranker Reranker) *Retriever {
	return NewRetriever(hashEmbedder{}, f.vectors, testCollection, f.lex, f.lookup, WeightedSum{Alpha: DefaultAlpha}, reranker)
}

func cvCorpus() []Chunk {
	return []Chunk{
		{ID: "eh-0", DocumentID: "eh", Ordinal: 0, Title: "Evelyn Hamilton", SourceURL: "cvs/evelyn_hamilton.pdf",
			Text: "Evelyn Hamilton is a data engineer with Python, Spark and AWS Glue experience."},
		{ID: "eh-1", DocumentID: "eh", Ordinal: 1, Title: "Evelyn Hamilton", SourceURL: "cvs/evelyn_hamilton.pdf",
			Text: "Evelyn built ETL pipelines and led a team of four engineers."},
		{ID: "jd-0", DocumentID: "jd", Ordinal: 0, Title: "Jonathan Dyer", SourceURL: "cvs/jonathan_dyer.pdf",
			Text: "Jonathan Dyer is a project manager certified in Scrum and PRINCE2."},
		{ID: "jd-1", DocumentID: "jd", Ordinal: 1, Title: "Jonathan Dyer", SourceURL: "cvs/jonathan_dyer.pdf",
			Text: "Jonathan managed cloud migrations to AWS for retail clients."},
		{ID: "cc-0", DocumentID: "cc", Ordinal: 0, Title: "Caitlin Cannon", SourceURL: "cvs/caitlin_cannon.pdf",
			Text: "Caitlin Cannon is a frontend developer working with React and TypeScript."},
		{ID: "cc-1", DocumentID: "cc", Ordinal: 1, Title: "Caitlin Cannon", SourceURL: "cvs/caitlin_cannon.pdf",
			Text: "Caitlin mentors junior developers and writes Python scripts for testing."},
	}
}
