// Package retrieval combines semantic and lexical search into a ranked,
// reranked candidate list.
package retrieval

import (
	"errors"
	"path"
	"sort"
	"strings"
)

var (
	// ErrInvalidQuery is returned for an empty query or inconsistent sizes.
	ErrInvalidQuery = errors.New("invalid retrieval request")
	// ErrRetrievalUnavailable is returned when a backing index cannot be reached.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// Chunk is the retrievable unit with the document fields needed for citation.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	SourceURL  string `json:"source_url"`
}

// DisplayTitle is the document title, or the source file name without
// directories or extension when the title is empty.
func (c Chunk) DisplayTitle() string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return SourceName(c.SourceURL)
}

// SourceName strips directories, query strings and the extension from a
// source path or URL.
func SourceName(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		source = source[:i]
	}
	base := path.Base(strings.ReplaceAll(source, "\\", "/"))
	if base == "." || base == "/" {
		return source
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Candidate is a chunk with its scores. SemanticScore and LexicalScore are
// raw signals; FusedScore is computed from their normalized values.
type Candidate struct {
	Chunk         Chunk   `json:"chunk"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	FusedScore    float64 `json:"fused_score"`
	RerankScore   float64 `json:"rerank_score"`
	Rank          int     `json:"rank"`
}

// RankedResult is an ordered candidate list with ranks starting at 1.
type RankedResult []Candidate

// ChunkIDs returns the chunk ids in rank order.
func (r RankedResult) ChunkIDs() []string {
	ids := make([]string, len(r))
	for i, c := range r {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// Request describes one retrieval. RerankQuery defaults to Query.
type Request struct {
	Query       string
	RerankQuery string
	TopK        int
	PoolSize    int
}

// orderBy sorts candidates by score descending, then by smaller ordinal,
// then by chunk id, so chunks of one document keep reading order on ties.
func orderBy(cands []Candidate, score func(Candidate) float64) {
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := score(cands[i]), score(cands[j])
		if si != sj {
			return si > sj
		}
		if cands[i].Chunk.Ordinal != cands[j].Chunk.Ordinal {
			return cands[i].Chunk.Ordinal < cands[j].Chunk.Ordinal
		}
		return cands[i].Chunk.ID < cands[j].Chunk.ID
	})
}

func byFused(c Candidate) float64  { return c.FusedScore }
func byRerank(c Candidate) float64 { return c.RerankScore }

// finalize truncates to topK and assigns ranks.
func finalize(cands []Candidate, topK int) RankedResult {
	if topK >= 0 && len(cands) > topK {
		cands = cands[:topK]
	}
	out := make(RankedResult, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
