// Package lexical implements an in-memory BM25 index over chunk text.
package lexical

import (
	"math"
	"sort"
	"sync"
)

// Okapi BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Document is one indexed chunk. Title is indexed alongside the text.
type Document struct {
	ChunkID string
	Title   string
	Text    string
}

// Hit is a scored search result.
type Hit struct {
	ChunkID string
	Score   float64
}

type posting struct {
	doc int
	tf  int
}

// Index is a BM25 index safe for concurrent searches. Replace swaps the
// whole corpus atomically.
type Index struct {
	k1 float64
	b  float64

	mu       sync.RWMutex
	ids      []string
	lengths  []int
	avgLen   float64
	postings map[string][]posting
}

// NewIndex creates an empty index with the default parameters.
func NewIndex() *Index {
	return &Index{
		k1:       DefaultK1,
		b:        DefaultB,
		postings: map[string][]posting{},
	}
}

// Replace rebuilds the index from docs.
func (ix *Index) Replace(docs []Document) {
	ids := make([]string, len(docs))
	lengths := make([]int, len(docs))
	postings := make(map[string][]posting)
	total := 0

	for i, d := range docs {
		ids[i] = d.ChunkID
		tokens := Tokenize(d.Title + " " + d.Text)
		lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok, n := range tf {
			postings[tok] = append(postings[tok], posting{doc: i, tf: n})
		}
	}

	avgLen := 0.0
	if len(docs) > 0 {
		avgLen = float64(total) / float64(len(docs))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.ids = ids
	ix.lengths = lengths
	ix.avgLen = avgLen
	ix.postings = postings
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Search returns up to limit documents with a positive score, ordered by
// score descending and then chunk id.
func (ix *Index) Search(query string, limit int) []Hit {
	if limit <= 0 {
		return nil
	}

	terms := FilterStopwords(Tokenize(query))
	if len(terms) == 0 {
		terms = Tokenize(query)
	}
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.ids)
	if n == 0 {
		return nil
	}

	scores := make(map[int]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		list := ix.postings[term]
		if len(list) == 0 {
			continue
		}
		idf := idf(n, len(list))
		for _, p := range list {
			norm := 1 - ix.b + ix.b*float64(ix.lengths[p.doc])/ix.avgLen
			tf := float64(p.tf)
			scores[p.doc] += idf * tf * (ix.k1 + 1) / (tf + ix.k1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		if score > 0 {
			hits = append(hits, Hit{ChunkID: ix.ids[doc], Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// idf is the non-negative BM25 variant, so a term present in every
// document still contributes.
func idf(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}
