// Package prompt builds the message list sent to the generation provider.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"cv-screener/internal/conversation"
	"cv-screener/internal/llm"
	"cv-screener/internal/retrieval"
)

// Relevance tiers by semantic score.
const (
	TierHigh   = "HIGH"
	TierMedium = "MEDIUM"
	TierLow    = "LOW"

	highThreshold   = 0.75
	mediumThreshold = 0.5
)

// Options configures an Assembler.
type Options struct {
	Language       string // ISO 639-1 code answers must be written in
	MaxAnswerWords int
	FewShot        bool
}

// Input is everything one prompt is built from.
type Input struct {
	Question   string
	Complexity string
	Sources    retrieval.RankedResult
	History    []conversation.Turn

	// Violations from a rejected first attempt; non-empty on retry.
	Violations []string
}

// Assembler turns retrieved sources, history and the question into messages.
type Assembler struct {
	opts         Options
	languageName string
}

// NewAssembler creates an Assembler.
func NewAssembler(opts Options) *Assembler {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.MaxAnswerWords <= 0 {
		opts.MaxAnswerWords = 600
	}
	return &Assembler{opts: opts, languageName: languageName(opts.Language)}
}

// Tier returns the relevance tier of a semantic score.
func Tier(semantic float64) string {
	switch {
	case semantic >= highThreshold:
		return TierHigh
	case semantic >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// Assemble returns the system message, prior turns, and the user message
// carrying the numbered context and the question.
func (a *Assembler) Assemble(in Input) []llm.Message {
	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt(in)})

	for _, turn := range in.History {
		role := llm.RoleUser
		if turn.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: a.userPrompt(in)})
	return messages
}

func (a *Assembler) systemPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, metaInstructions, a.languageName)
	b.WriteString("\n\n")
	b.WriteString(domainKnowledge)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, taskInstructions, len(in.Sources), a.opts.MaxAnswerWords)

	if guidance, ok := complexityGuidance[in.Complexity]; ok {
		b.WriteString("\n\n")
		b.WriteString(guidance)
	}

	if a.opts.FewShot {
		b.WriteString("\n\n# EXAMPLE ANSWERS\n")
		for i, ex := range fewShotExamples {
			fmt.Fprintf(&b, "\n**Example %d** - %s:\n\nAvailable context:\n%s\n\nQuestion: %s\n\n",
				i+1, ex.name, ex.context, ex.question)
			fmt.Fprintf(&b, "Correct answer:\n%s\n\nIncorrect answer (do NOT do this):\n%s\nReason: %s\n",
				ex.good, ex.bad, ex.reason)
		}
		b.WriteString("\nThe examples only show the format; never cite them.")
	}
	return b.String()
}

func (a *Assembler) userPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("# RETRIEVED CONTEXT\n")
	b.WriteString("The following sources were retrieved for the question, ordered by relevance:\n\n")
	b.WriteString(FormatContext(in.Sources))

	b.WriteString("\n# USER QUESTION\n")
	b.WriteString(in.Question)
	b.WriteString("\n")

	if len(in.Violations) > 0 {
		b.WriteString("\n# CORRECTION\n")
		b.WriteString("Your previous answer was rejected for these problems:\n")
		for _, v := range in.Violations {
			fmt.Fprintf(&b, "- %s\n", v)
		}
		fmt.Fprintf(&b, "Write a new answer that cites only [1] to [%d], ends with a single %q section, stays under %d words and is written in %s.\n",
			len(in.Sources), SourcesHeader, a.opts.MaxAnswerWords, a.languageName)
	}

	b.WriteString("\n# YOUR RESPONSE\n")
	b.WriteString("Provide a well-structured, cited answer following the instructions above.")
	return b.String()
}

// FormatContext numbers sources from 1 in rank order and annotates their tier.
func FormatContext(sources retrieval.RankedResult) string {
	var b strings.Builder
	for i, c := range sources {
		fmt.Fprintf(&b, "[%d] (Relevance: %s, %.0f%%)\n", i+1, Tier(c.SemanticScore), c.SemanticScore*100)
		fmt.Fprintf(&b, "Title: %s\n", c.Chunk.DisplayTitle())
		if c.Chunk.SourceURL != "" {
			fmt.Fprintf(&b, "URL: %s\n", c.Chunk.SourceURL)
		}
		fmt.Fprintf(&b, "Content: %s\n\n", strings.TrimSpace(c.Chunk.Text))
	}
	return b.String()
}

// languageName returns the English name of an ISO code, or the code itself.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
