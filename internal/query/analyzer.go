// Package query normalizes and classifies incoming questions.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"cv-screener/internal/conversation"
	"cv-screener/internal/language"
	"cv-screener/internal/lexical"
)

var (
	// ErrEmptyQuery is returned when the question is empty after normalization.
	ErrEmptyQuery = errors.New("empty query")
	// ErrUnsupportedLanguage is returned under the reject policy when the
	// question is confidently in another language.
	ErrUnsupportedLanguage = errors.New("unsupported query language")
)

// Complexity drives answer-length guidance in the prompt.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Language policies.
const (
	PolicyReject  = "reject"
	PolicyEnforce = "enforce"
)

var complexMarkers = []string{
	"compare", "difference", "pros and cons", "why", "how does", "process",
	"implement", "better than", "vs", "versus", "explain",
}

var moderateMarkers = []string{
	"features", "capabilities", "includes", "offers", "types of", "which",
}

// Analysis is the analyzer's view of one question.
// Original is what gets fingerprinted and echoed; RetrievalQuery may carry
// extra terms taken from the conversation.
type Analysis struct {
	Original       string     `json:"original"`
	Normalized     string     `json:"normalized"`
	RetrievalQuery string     `json:"retrieval_query"`
	Language       string     `json:"language"`
	Complexity     Complexity `json:"complexity"`
	Expanded       bool       `json:"expanded"`
	ExpansionTerms []string   `json:"expansion_terms,omitempty"`
}

// Options configures an Analyzer.
type Options struct {
	RequiredLanguage  string
	Policy            string
	ShortQueryWords   int
	MaxExpansionTerms int
}

// Analyzer implements query analysis. It holds no per-request state.
type Analyzer struct {
	detector *language.Detector
	opts     Options
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(detector *language.Detector, opts Options) *Analyzer {
	if opts.MaxExpansionTerms <= 0 {
		opts.MaxExpansionTerms = 5
	}
	if opts.Policy == "" {
		opts.Policy = PolicyEnforce
	}
	return &Analyzer{detector: detector, opts: opts}
}

// Analyze normalizes raw, detects its language and complexity, and expands
// short follow-up questions with terms from the latest turns of history.
func (a *Analyzer) Analyze(raw string, history []conversation.Turn) (Analysis, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return Analysis{}, ErrEmptyQuery
	}

	analysis := Analysis{
		Original:       normalized,
		Normalized:     normalized,
		RetrievalQuery: normalized,
		Language:       a.detector.Detect(normalized),
		Complexity:     ClassifyComplexity(normalized),
	}

	if a.opts.Policy == PolicyReject &&
		analysis.Language != language.Undetermined &&
		a.opts.RequiredLanguage != "" &&
		analysis.Language != a.opts.RequiredLanguage {
		return analysis, fmt.Errorf("%w: detected %s, required %s", ErrUnsupportedLanguage, analysis.Language, a.opts.RequiredLanguage)
	}

	if len(strings.Fields(normalized)) < a.opts.ShortQueryWords && len(history) > 0 {
		recent := history
		if len(recent) > 2 {
			recent = recent[len(recent)-2:]
		}
		terms := salientTerms(normalized, recent, a.opts.MaxExpansionTerms)
		if len(terms) > 0 {
			analysis.RetrievalQuery = normalized + " " + strings.Join(terms, " ")
			analysis.Expanded = true
			analysis.ExpansionTerms = terms
		}
	}

	return analysis, nil
}

// Normalize applies NFKC, trims and collapses internal whitespace.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(raw)), " ")
}

// ClassifyComplexity returns the first matching marker class.
func ClassifyComplexity(q string) Complexity {
	padded := " " + strings.Join(lexical.Tokenize(q), " ") + " "
	for _, marker := range complexMarkers {
		if strings.Contains(padded, " "+marker+" ") {
			return Complex
		}
	}
	for _, marker := range moderateMarkers {
		if strings.Contains(padded, " "+marker+" ") {
			return Moderate
		}
	}
	return Simple
}

// salientTerms picks up to max non-stopword terms from turns that the query
// does not already contain, most frequent first, then by first appearance.
func salientTerms(q string, turns []conversation.Turn, max int) []string {
	have := make(map[string]struct{})
	for _, tok := range lexical.Tokenize(q) {
		have[tok] = struct{}{}
	}

	type term struct {
		text  string
		count int
		first int
	}
	byText := make(map[string]*term)
	pos := 0
	// Newest turn first so its terms win ties.
	for i := len(turns) - 1; i >= 0; i-- {
		for _, tok := range lexical.Tokenize(turns[i].Content) {
			pos++
			if len(tok) < 3 || lexical.IsStopword(tok) {
				continue
			}
			if _, ok := have[tok]; ok {
				continue
			}
			if t, ok := byText[tok]; ok {
				t.count++
				continue
			}
			byText[tok] = &term{text: tok, count: 1, first: pos}
		}
	}

	terms := make([]*term, 0, len(byText))
	for _, t := range byText {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].first < terms[j].first
	})
	if len(terms) > max {
		terms = terms[:max]
	}

	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.text
	}
	return out
}
