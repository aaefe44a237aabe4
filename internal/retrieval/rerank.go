package retrieval

import "cv-screener/internal/lexical"

// Reranker reorders a fused candidate pool and truncates it to topK.
// Implementations must not modify FusedScore, so reranking is idempotent.
type Reranker interface {
	Rerank(query string, pool []Candidate, topK int) RankedResult
}

// IdentityReranker keeps the fused order.
type IdentityReranker struct{}

func (IdentityReranker) Rerank(_ string, pool []Candidate, topK int) RankedResult {
	cands := make([]Candidate, len(pool))
	copy(cands, pool)
	for i := range cands {
		cands[i].RerankScore = cands[i].FusedScore
	}
	orderBy(cands, byFused)
	return finalize(cands, topK)
}

const (
	DefaultRerankWeight = 0.3

	coverageWeight   = 0.8
	densityScale     = 10.0
	maxDensityScore  = 0.1
	titleMatchBonus  = 0.05
	maxTitleBonusSum = 0.1
)

// OverlapReranker blends the fused score with query-term overlap:
// RerankScore = (1-Weight)*FusedScore + Weight*overlap.
type OverlapReranker struct {
	Weight float64
}

func (r OverlapReranker) Rerank(query string, pool []Candidate, topK int) RankedResult {
	terms := uniqueTerms(query)
	cands := make([]Candidate, len(pool))
	copy(cands, pool)
	for i := range cands {
		ov := overlap(terms, cands[i].Chunk.Text, cands[i].Chunk.Title)
		cands[i].RerankScore = (1-r.Weight)*cands[i].FusedScore + r.Weight*ov
	}
	orderBy(cands, byRerank)
	return finalize(cands, topK)
}

func uniqueTerms(query string) []string {
	tokens := lexical.FilterStopwords(lexical.Tokenize(query))
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// overlap scores how well a chunk covers the query terms, in [0,1]:
// term coverage, a bounded term density and a bounded title bonus.
func overlap(terms []string, text, title string) float64 {
	if len(terms) == 0 {
		return 0
	}

	chunkTokens := lexical.Tokenize(text)
	chunkFreq := make(map[string]int, len(chunkTokens))
	for _, token := range chunkTokens {
		chunkFreq[token]++
	}

	var covered, rawMatches int
	for _, term := range terms {
		if n := chunkFreq[term]; n > 0 {
			covered++
			rawMatches += n
		}
	}
	score := coverageWeight * float64(covered) / float64(len(terms))

	density := float64(rawMatches) / (1 + float64(len(chunkTokens))) * densityScale
	if density > maxDensityScore {
		density = maxDensityScore
	}
	score += density

	if title != "" {
		titleSet := make(map[string]struct{})
		for _, token := range lexical.Tokenize(title) {
			titleSet[token] = struct{}{}
		}
		bonus := 0.0
		for _, term := range terms {
			if _, ok := titleSet[term]; ok {
				bonus += titleMatchBonus
			}
		}
		if bonus > maxTitleBonusSum {
			bonus = maxTitleBonusSum
		}
		score += bonus
	}

	return clamp01(score)
}
