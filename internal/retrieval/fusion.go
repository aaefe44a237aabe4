package retrieval

// FusionStrategy combines normalized semantic and lexical scores, both in [0,1].
type FusionStrategy interface {
	Fuse(semantic, lexical float64) float64
	Name() string
}

// DefaultAlpha weights the semantic signal in WeightedSum.
const DefaultAlpha = 0.6

// WeightedSum is alpha*semantic + (1-alpha)*lexical.
type WeightedSum struct {
	Alpha float64
}

func (w WeightedSum) Fuse(semantic, lexical float64) float64 {
	return w.Alpha*semantic + (1-w.Alpha)*lexical
}

func (w WeightedSum) Name() string { return "weighted_sum" }

// fuse sets FusedScore on every candidate. Each signal is min-max normalized
// over the whole candidate union; a signal with zero spread normalizes to 0.5.
func fuse(cands []Candidate, strategy FusionStrategy) {
	if len(cands) == 0 {
		return
	}
	semNorm := normalizer(cands, func(c Candidate) float64 { return c.SemanticScore })
	lexNorm := normalizer(cands, func(c Candidate) float64 { return c.LexicalScore })
	for i := range cands {
		cands[i].FusedScore = strategy.Fuse(semNorm(cands[i].SemanticScore), lexNorm(cands[i].LexicalScore))
	}
}

func normalizer(cands []Candidate, signal func(Candidate) float64) func(float64) float64 {
	lo, hi := signal(cands[0]), signal(cands[0])
	for _, c := range cands[1:] {
		v := signal(c)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return func(float64) float64 { return 0.5 }
	}
	return func(v float64) float64 { return (v - lo) / (hi - lo) }
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
