// Package guardrail checks generated answers before they are returned or cached.
package guardrail

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cv-screener/internal/language"
	"cv-screener/internal/lexical"
	"cv-screener/internal/prompt"
	"cv-screener/internal/retrieval"
)

// Kind names a violation.
type Kind string

const (
	PhantomCitation     Kind = "phantom_citation"
	LengthViolation     Kind = "length_violation"
	LanguageViolation   Kind = "language_violation"
	EmptyAnswer         Kind = "empty_answer"
	MissingSourcesBlock Kind = "missing_sources_block"
	MissingCitations    Kind = "missing_citations"
	SpeculativeLanguage Kind = "speculative_language"
)

var hardKinds = map[Kind]bool{
	PhantomCitation:   true,
	LengthViolation:   true,
	LanguageViolation: true,
	EmptyAnswer:       true,
}

// Violation is one failed check. Hard violations reject the answer.
type Violation struct {
	Kind   Kind   `json:"kind"`
	Hard   bool   `json:"hard"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	return string(v.Kind) + ": " + v.Detail
}

// Result collects every violation found in one answer.
type Result struct {
	Violations []Violation `json:"violations"`
	WordCount  int         `json:"word_count"`
	Language   string      `json:"language"`
	Citations  []int       `json:"citations"`
}

// Valid reports whether the answer has no hard violations.
func (r Result) Valid() bool {
	for _, v := range r.Violations {
		if v.Hard {
			return false
		}
	}
	return true
}

// Has reports whether a violation of kind k was found.
func (r Result) Has(k Kind) bool {
	for _, v := range r.Violations {
		if v.Kind == k {
			return true
		}
	}
	return false
}

// Kinds lists the violation kinds in the order they were found.
func (r Result) Kinds() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = string(v.Kind)
	}
	return out
}

// Details lists hard violations as readable strings, for a corrective prompt.
func (r Result) Details() []string {
	var out []string
	for _, v := range r.Violations {
		if v.Hard {
			out = append(out, v.Detail)
		}
	}
	return out
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

var speculativePhrases = []string{
	"in my knowledge", "as far as i know", "in my experience", "i think", "i imagine",
	"i believe", "probably without",
}

// Validator checks answers against citation, length and language rules.
type Validator struct {
	detector *language.Detector
	maxWords int
}

// NewValidator creates a Validator allowing at most maxWords words of plain text.
func NewValidator(detector *language.Detector, maxWords int) *Validator {
	return &Validator{detector: detector, maxWords: maxWords}
}

// Validate runs every check and returns all violations. requiredLanguage is
// an ISO 639-1 code; an empty value skips the language check.
func (v *Validator) Validate(answer string, sources retrieval.RankedResult, requiredLanguage string) Result {
	var res Result
	add := func(k Kind, format string, args ...any) {
		res.Violations = append(res.Violations, Violation{Kind: k, Hard: hardKinds[k], Detail: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(answer) == "" {
		add(EmptyAnswer, "the answer is empty")
		return res
	}

	p := parseAnswer(answer)
	res.Citations = citations(answer)

	var phantom []string
	for _, n := range res.Citations {
		if n < 1 || n > len(sources) {
			phantom = append(phantom, fmt.Sprintf("[%d]", n))
		}
	}
	if len(phantom) > 0 {
		add(PhantomCitation, "citation %s refers to a source that does not exist; only [1] to [%d] are valid",
			strings.Join(phantom, ", "), len(sources))
	}

	res.WordCount = countWords(p.all)
	if v.maxWords > 0 && res.WordCount > v.maxWords {
		add(LengthViolation, "the answer has %d words, the limit is %d", res.WordCount, v.maxWords)
	}

	res.Language = v.detector.Detect(p.body)
	if requiredLanguage != "" && res.Language != language.Undetermined && res.Language != requiredLanguage {
		add(LanguageViolation, "the answer is written in %q but must be in %q", res.Language, requiredLanguage)
	}

	if len(sources) > 0 && p.sourcesBlocks == 0 {
		add(MissingSourcesBlock, "the answer has no %q section", prompt.SourcesHeader)
	}
	if len(sources) > 0 && len(res.Citations) == 0 {
		add(MissingCitations, "no claim carries a [N] citation")
	}

	padded := " " + strings.Join(lexical.Tokenize(p.body), " ") + " "
	var found []string
	for _, phrase := range speculativePhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			found = append(found, phrase)
		}
	}
	if len(found) > 0 {
		add(SpeculativeLanguage, "speculative phrasing: %s", strings.Join(found, ", "))
	}

	return res
}

// citations returns the distinct citation numbers in ascending order.
func citations(answer string) []int {
	seen := map[int]struct{}{}
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Too large to be a source index.
			n = -1
		}
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// StripPhantomCitations removes citation markers outside [1, sourceCount].
func StripPhantomCitations(answer string, sourceCount int) string {
	return citationPattern.ReplaceAllStringFunc(answer, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > sourceCount {
			return ""
		}
		return m
	})
}

// countWords counts whitespace-separated words, ignoring citation markers.
func countWords(plain string) int {
	return len(strings.Fields(citationPattern.ReplaceAllString(plain, " ")))
}

// Repair appends a sources section listing the cited sources, or every
// source when nothing is cited. Answers that already have one are returned unchanged.
func Repair(answer string, sources retrieval.RankedResult) string {
	if len(sources) == 0 || parseAnswer(answer).sourcesBlocks > 0 {
		return answer
	}

	var listed []int
	for _, n := range citations(answer) {
		if n >= 1 && n <= len(sources) {
			listed = append(listed, n)
		}
	}
	if len(listed) == 0 {
		for i := range sources {
			listed = append(listed, i+1)
		}
	}

	return strings.TrimRight(answer, " \n") + "\n\n" + FormatSources(sources, listed)
}

// FormatSources renders the sources section for the given 1-based source numbers.
func FormatSources(sources retrieval.RankedResult, numbers []int) string {
	var b strings.Builder
	b.WriteString(prompt.SourcesHeader)
	for _, n := range numbers {
		c := sources[n-1].Chunk
		fmt.Fprintf(&b, "\n%d. %s", n, c.DisplayTitle())
		if c.SourceURL != "" {
			fmt.Fprintf(&b, " - %s", c.SourceURL)
		}
	}
	return b.String()
}
