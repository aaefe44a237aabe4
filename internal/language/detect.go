// Package language guesses the language of short texts from stopword frequency.
package language

import (
	"cv-screener/internal/lexical"
)

// Undetermined is returned when no profile is conclusive.
const Undetermined = "und"

// DefaultMinRatio is the share of tokens that must be stopwords of the winning language.
const DefaultMinRatio = 0.08

var profiles = map[string][]string{
	"en": {"the", "and", "is", "are", "of", "to", "in", "with", "for", "what", "who", "has", "have",
		"does", "do", "which", "on", "at", "this", "that", "was", "were", "he", "she", "they", "his",
		"her", "their", "a", "an", "as", "by", "from", "it", "be", "been", "how", "or", "not", "any"},
	"es": {"el", "la", "los", "las", "y", "es", "son", "de", "del", "en", "con", "para", "por", "que",
		"qué", "quién", "cuál", "tiene", "tienen", "una", "un", "su", "sus", "se", "al", "lo", "como",
		"más", "pero", "este", "esta", "ha"},
	"fr": {"le", "la", "les", "et", "est", "sont", "de", "des", "du", "en", "avec", "pour", "par",
		"que", "qui", "quel", "quelle", "une", "un", "son", "sa", "ses", "il", "elle", "ils", "au",
		"aux", "dans", "sur", "pas", "ce", "cette", "a"},
	"de": {"der", "die", "das", "und", "ist", "sind", "von", "mit", "für", "was", "wer", "welche",
		"hat", "haben", "ein", "eine", "einen", "im", "in", "zu", "den", "dem", "des", "auf", "nicht",
		"sie", "er", "es", "als", "auch", "bei"},
}

// Detector classifies text against the built-in stopword profiles.
type Detector struct {
	minRatio float64
	words    map[string]map[string]struct{}
}

// NewDetector creates a detector requiring minRatio stopword coverage.
// A non-positive minRatio uses DefaultMinRatio.
func NewDetector(minRatio float64) *Detector {
	if minRatio <= 0 {
		minRatio = DefaultMinRatio
	}
	words := make(map[string]map[string]struct{}, len(profiles))
	for lang, list := range profiles {
		set := make(map[string]struct{}, len(list))
		for _, w := range list {
			set[w] = struct{}{}
		}
		words[lang] = set
	}
	return &Detector{minRatio: minRatio, words: words}
}

// Detect returns an ISO 639-1 code, or Undetermined when the text has no
// clear winner.
func (d *Detector) Detect(text string) string {
	tokens := lexical.Tokenize(text)
	if len(tokens) == 0 {
		return Undetermined
	}

	best, bestHits, runnerUp := Undetermined, 0, 0
	for lang, set := range d.words {
		hits := 0
		for _, tok := range tokens {
			if _, ok := set[tok]; ok {
				hits++
			}
		}
		switch {
		case hits > bestHits:
			runnerUp = bestHits
			best, bestHits = lang, hits
		case hits > runnerUp:
			runnerUp = hits
		}
	}

	if bestHits == 0 || bestHits == runnerUp {
		return Undetermined
	}
	if float64(bestHits)/float64(len(tokens)) < d.minRatio {
		return Undetermined
	}
	return best
}
