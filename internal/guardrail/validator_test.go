package guardrail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-screener/internal/language"
	"cv-screener/internal/retrieval"
)

func twoSources() retrieval.RankedResult {
	return retrieval.RankedResult{
		{Chunk: retrieval.Chunk{ID: "eh-0", Title: "Evelyn Hamilton", SourceURL: "cvs/evelyn_hamilton.pdf"}, Rank: 1},
		{Chunk: retrieval.Chunk{ID: "jd-0", SourceURL: "cvs/jonathan_dyer.pdf"}, Rank: 2},
	}
}

func newValidator(maxWords int) *Validator {
	return NewValidator(language.NewDetector(0), maxWords)
}

const goodAnswer = `Evelyn Hamilton is a data engineer who has built pipelines on AWS Glue [1]. Jonathan Dyer is a project manager with Scrum experience [2].

**Sources consulted:**
1. Evelyn Hamilton - cvs/evelyn_hamilton.pdf
2. jonathan_dyer - cvs/jonathan_dyer.pdf`

func TestValidate_GoodAnswer(t *testing.T) {
	res := newValidator(600).Validate(goodAnswer, twoSources(), "en")

	assert.True(t, res.Valid(), "violations: %v", res.Violations)
	assert.Empty(t, res.Violations)
	assert.Equal(t, []int{1, 2}, res.Citations)
	assert.Equal(t, "en", res.Language)
}

func TestValidate_PhantomCitation(t *testing.T) {
	answer := strings.Replace(goodAnswer, "Scrum experience [2]", "Scrum experience [3]", 1)

	res := newValidator(600).Validate(answer, twoSources(), "en")

	require.False(t, res.Valid())
	require.True(t, res.Has(PhantomCitation))
	assert.Contains(t, res.Details()[0], "[3]")
}

func TestValidate_ZeroCitationIsPhantom(t *testing.T) {
	answer := strings.Replace(goodAnswer, "[1]", "[0]", 1)
	res := newValidator(600).Validate(answer, twoSources(), "en")
	assert.True(t, res.Has(PhantomCitation))
}

func TestValidate_Length(t *testing.T) {
	long := strings.Repeat("The candidate has experience with the cloud [1]. ", 40) + "\n\n**Sources consulted:**\n1. Evelyn Hamilton"

	res := newValidator(100).Validate(long, twoSources(), "en")

	assert.False(t, res.Valid())
	assert.True(t, res.Has(LengthViolation))
	assert.Greater(t, res.WordCount, 100)
}

func TestValidate_CitationsNotCountedAsWords(t *testing.T) {
	res := newValidator(6).Validate("The engineer is skilled [1] [2]\n\n**Sources consulted:**", twoSources(), "en")
	assert.False(t, res.Has(LengthViolation), "word count %d", res.WordCount)
}

func TestValidate_Language(t *testing.T) {
	spanish := "Evelyn Hamilton es una ingeniera de datos con experiencia en AWS Glue y en la nube [1].\n\n**Sources consulted:**\n1. Evelyn Hamilton"

	res := newValidator(600).Validate(spanish, twoSources(), "en")
	assert.True(t, res.Has(LanguageViolation))
	assert.False(t, res.Valid())

	res = newValidator(600).Validate(spanish, twoSources(), "es")
	assert.False(t, res.Has(LanguageViolation))
}

func TestValidate_SoftViolationsKeepAnswerValid(t *testing.T) {
	answer := "I think Evelyn Hamilton is a data engineer with the AWS stack."

	res := newValidator(600).Validate(answer, twoSources(), "en")

	assert.True(t, res.Valid())
	assert.True(t, res.Has(MissingSourcesBlock))
	assert.True(t, res.Has(MissingCitations))
	assert.True(t, res.Has(SpeculativeLanguage))
}

func TestValidate_SpeculativeMatchesWholeWords(t *testing.T) {
	answer := "Hi thinking about the role, Evelyn is the lead [1].\n\n**Sources consulted:**\n1. Evelyn Hamilton"
	res := newValidator(600).Validate(answer, twoSources(), "en")
	assert.False(t, res.Has(SpeculativeLanguage))
}

func TestValidate_Empty(t *testing.T) {
	res := newValidator(600).Validate("  \n", twoSources(), "en")
	assert.False(t, res.Valid())
	assert.Equal(t, []string{string(EmptyAnswer)}, res.Kinds())
}

func TestValidate_NoSourcesNeedsNoBlock(t *testing.T) {
	res := newValidator(600).Validate("I couldn't find information about that in the available CVs.", nil, "en")
	assert.Empty(t, res.Violations)
}

func TestValidate_CodeIgnored(t *testing.T) {
	answer := "The tool is `kubectl apply` and the lead is Evelyn [1].\n\n```\nfor i in range(10): print(i)\n```\n\n**Sources consulted:**\n1. Evelyn Hamilton"
	res := newValidator(14).Validate(answer, twoSources(), "en")
	assert.False(t, res.Has(LengthViolation), "word count %d", res.WordCount)
}

func TestRepair(t *testing.T) {
	answer := "Jonathan Dyer manages projects [2]."

	repaired := Repair(answer, twoSources())

	assert.Equal(t, "Jonathan Dyer manages projects [2].\n\n**Sources consulted:**\n2. jonathan_dyer - cvs/jonathan_dyer.pdf", repaired)
	res := newValidator(600).Validate(repaired, twoSources(), "en")
	assert.False(t, res.Has(MissingSourcesBlock))
	assert.Equal(t, repaired, Repair(repaired, twoSources()), "repair must be idempotent")
}

func TestRepair_ListsAllWhenNothingCited(t *testing.T) {
	repaired := Repair("Both candidates are strong.", twoSources())
	assert.Contains(t, repaired, "1. Evelyn Hamilton - cvs/evelyn_hamilton.pdf")
	assert.Contains(t, repaired, "2. jonathan_dyer - cvs/jonathan_dyer.pdf")

	assert.Equal(t, "No sources.", Repair("No sources.", nil))
}

func TestStripPhantomCitations(t *testing.T) {
	got := StripPhantomCitations("Glue [1], Spark [3] and Scrum [2][0].", 2)
	assert.Equal(t, "Glue [1], Spark  and Scrum [2].", got)
}
