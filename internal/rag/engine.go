package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cv-screener/internal/cache"
	"cv-screener/internal/contextutil"
	"cv-screener/internal/conversation"
	"cv-screener/internal/guardrail"
	"cv-screener/internal/llm"
	"cv-screener/internal/prompt"
	"cv-screener/internal/query"
	"cv-screener/internal/retrieval"
)

const (
	// maxAttempts bounds generation to the first call plus one retry.
	maxAttempts  = 2
	snippetRunes = 300

	noGroundingAnswer = "I could not find any information in the CV collection that answers this question, so I cannot give a grounded answer."
	unverifiedCaveat  = "**Note:** this answer could not be fully verified against the retrieved CVs (%s). Check the cited sources before relying on it."
	extractiveCaveat  = "**Note:** the answer generator is unavailable, so these are the most relevant CV passages rather than a generated answer."
)

// Engine answers questions about the CV corpus.
type Engine interface {
	// AnswerQuestion runs one question through analysis, retrieval, the
	// answer cache and guarded generation. history may be nil; when given it
	// gains the question and answer on success and is untouched on failure.
	AnswerQuestion(ctx context.Context, req AskRequest, history *conversation.History) (AskResponse, error)
}

// Retriever is the part of retrieval.Retriever the engine uses.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.RankedResult, error)
}

// Config holds the per-answer settings. Alpha and Rerank only feed the cache
// fingerprint; the retriever is configured with them separately.
type Config struct {
	Model             string
	TopK              int
	PoolSize          int
	Alpha             float64
	Rerank            bool
	Language          string
	Temperature       float32
	MaxTokens         int
	GenerationTimeout time.Duration
	DegradeOnFailure  bool
}

// Option customizes an engine.
type Option func(*ragEngine)

// WithCache enables answer caching. Without it every question is generated.
func WithCache(c *cache.Cache) Option {
	return func(e *ragEngine) { e.cache = c }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *ragEngine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *ragEngine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// ragEngine implements the Engine interface.
type ragEngine struct {
	cfg       Config
	analyzer  *query.Analyzer
	retriever Retriever
	assembler *prompt.Assembler
	validator *guardrail.Validator
	generator llm.Generator
	cache     *cache.Cache
	recorder  Recorder
	tracer    trace.Tracer
}

// NewEngine creates a new engine. It returns a *ConfigurationError when cfg
// cannot work.
func NewEngine(
	cfg Config,
	analyzer *query.Analyzer,
	retriever Retriever,
	assembler *prompt.Assembler,
	validator *guardrail.Validator,
	generator llm.Generator,
	opts ...Option,
) (Engine, error) {
	switch {
	case cfg.TopK <= 0:
		return nil, &ConfigurationError{Field: "TopK", Reason: "must be positive"}
	case cfg.PoolSize < cfg.TopK:
		return nil, &ConfigurationError{Field: "PoolSize", Reason: fmt.Sprintf("must be at least TopK (%d)", cfg.TopK)}
	case cfg.GenerationTimeout <= 0:
		return nil, &ConfigurationError{Field: "GenerationTimeout", Reason: "must be positive"}
	}

	e := &ragEngine{
		cfg:       cfg,
		analyzer:  analyzer,
		retriever: retriever,
		assembler: assembler,
		validator: validator,
		generator: generator,
		recorder:  nopRecorder{},
		tracer:    otel.Tracer("cv-screener/internal/rag"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AnswerQuestion implements Engine.
func (e *ragEngine) AnswerQuestion(ctx context.Context, req AskRequest, history *conversation.History) (resp AskResponse, err error) {
	ctx, span := e.tracer.Start(ctx, "rag.AnswerQuestion")
	defer span.End()
	logger := contextutil.LoggerFromContext(ctx)

	start := time.Now()
	tr := &runTrace{}
	tr.enter(StateReceived)

	defer func() {
		e.recorder.ObserveStage("total", time.Since(start))
		if err != nil {
			tr.enter(StateFailed)
			e.recorder.RecordOutcome(OutcomeFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.WarnContext(ctx, "question failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		}
	}()

	topK := req.TopK
	if topK == 0 {
		topK = e.cfg.TopK
	}
	if topK < 0 || topK > e.cfg.PoolSize {
		return AskResponse{}, fmt.Errorf("%w: top_k must be between 1 and %d, got %d", ErrInvalidQuery, e.cfg.PoolSize, req.TopK)
	}

	stageStart := time.Now()
	analysis, err := e.analyzer.Analyze(req.Question, history.Turns())
	e.recorder.ObserveStage("analyze", time.Since(stageStart))
	if err != nil {
		return AskResponse{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	tr.enter(StateAnalyzed)
	span.SetAttributes(
		attribute.String("query.language", analysis.Language),
		attribute.String("query.complexity", string(analysis.Complexity)),
		attribute.Bool("query.expanded", analysis.Expanded),
		attribute.Int("query.top_k", topK),
	)
	logger.InfoContext(ctx, "question analyzed",
		"complexity", analysis.Complexity,
		"language", analysis.Language,
		"expanded", analysis.Expanded,
		"top_k", topK,
	)

	sources, err := e.retrieve(ctx, analysis, topK)
	if err != nil {
		return AskResponse{}, err
	}
	tr.enter(StateRetrieved)

	if len(sources) == 0 {
		logger.InfoContext(ctx, "no grounding found")
		entry := e.newEntry(noGroundingAnswer, nil, nil, false)
		return e.respond(req, topK, analysis, "", sources, entry, cache.Computed, history, tr), nil
	}

	fp := cache.Fingerprint(cache.FingerprintInput{
		Question: analysis.Normalized,
		TopK:     topK,
		Model:    e.cfg.Model,
		Alpha:    e.cfg.Alpha,
		Rerank:   e.cfg.Rerank,
		Language: e.cfg.Language,
		ChunkIDs: sources.ChunkIDs(),
	})
	tr.enter(StateCacheCheck)

	turns := history.Turns()
	compute := func(ctx context.Context) (*cache.Entry, bool, error) {
		return e.generate(ctx, tr, analysis, sources, turns)
	}

	var (
		entry   *cache.Entry
		outcome = cache.Computed
	)
	if e.cache != nil {
		entry, outcome, err = e.cache.GetOrCompute(ctx, fp, compute)
		if err == nil {
			e.recorder.RecordCache(outcome.String())
		}
	} else {
		entry, _, err = compute(ctx)
	}
	if err != nil {
		return AskResponse{}, err
	}
	if outcome != cache.Computed {
		tr.enter(StateCacheHit)
		logger.InfoContext(ctx, "answer served from cache", "outcome", outcome.String(), "fingerprint", fp)
	}

	return e.respond(req, topK, analysis, fp, sources, entry, outcome, history, tr), nil
}

func (e *ragEngine) retrieve(ctx context.Context, analysis query.Analysis, topK int) (retrieval.RankedResult, error) {
	ctx, span := e.tracer.Start(ctx, "rag.retrieve")
	defer span.End()

	start := time.Now()
	result, err := e.retriever.Retrieve(ctx, retrieval.Request{
		Query:       analysis.RetrievalQuery,
		RerankQuery: analysis.Normalized,
		TopK:        topK,
		PoolSize:    e.cfg.PoolSize,
	})
	e.recorder.ObserveStage("retrieve", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, retrieval.ErrInvalidQuery) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	span.SetAttributes(attribute.Int("retrieval.count", len(result)))
	return result, nil
}

// generate runs GENERATING and VALIDATING at most twice. The returned bool
// says whether the entry may be cached; degraded answers may not.
func (e *ragEngine) generate(ctx context.Context, tr *runTrace, analysis query.Analysis, sources retrieval.RankedResult, turns []conversation.Turn) (*cache.Entry, bool, error) {
	logger := contextutil.LoggerFromContext(ctx)

	input := prompt.Input{
		Question:   analysis.Normalized,
		Complexity: string(analysis.Complexity),
		Sources:    sources,
		History:    turns,
	}

	var (
		lastAnswer string
		lastResult guardrail.Result
		genErr     error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			tr.enter(StateRetryOnce)
		}
		tr.enter(StateGenerating)

		var answer string
		answer, genErr = e.callGenerator(ctx, input, attempt)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			tr.attempt(Attempt{Number: attempt, Error: genErr.Error()})
			logger.WarnContext(ctx, "generation attempt failed", "attempt", attempt, "error", genErr)
			continue
		}

		tr.enter(StateValidating)
		result := e.validator.Validate(answer, sources, e.cfg.Language)
		for _, v := range result.Violations {
			e.recorder.RecordViolation(string(v.Kind))
		}
		if result.Has(guardrail.MissingSourcesBlock) {
			answer = guardrail.Repair(answer, sources)
		}
		tr.attempt(Attempt{Number: attempt, Violations: result.Kinds()})

		if result.Valid() {
			tr.enter(StateValid)
			tr.enter(StateCacheWrite)
			return e.newEntry(answer, sources, result.Kinds(), false), true, nil
		}

		if attempt == 1 {
			tr.enter(StateInvalid)
		} else {
			tr.enter(StateInvalidAgain)
		}
		logger.WarnContext(ctx, "answer failed validation", "attempt", attempt, "violations", result.Kinds())
		lastAnswer, lastResult = answer, result
		input.Violations = result.Details()
	}

	// The final attempt decides the error kind; an earlier rejected answer is
	// kept in the message only.
	if !e.cfg.DegradeOnFailure {
		if genErr == nil {
			return nil, false, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(lastResult.Details(), "; "))
		}
		if lastAnswer != "" {
			return nil, false, fmt.Errorf("%w: %w (earlier attempt failed validation: %s)",
				ErrGenerationTimeout, genErr, strings.Join(lastResult.Details(), "; "))
		}
		return nil, false, fmt.Errorf("%w: %w", ErrGenerationTimeout, genErr)
	}

	if lastAnswer == "" {
		return e.newEntry(extractiveAnswer(sources), sources, []string{"generation_failed"}, true), false, nil
	}
	return e.newEntry(unverifiedAnswer(lastAnswer, lastResult, sources), sources, lastResult.Kinds(), true), false, nil
}

func (e *ragEngine) callGenerator(ctx context.Context, input prompt.Input, attempt int) (string, error) {
	ctx, span := e.tracer.Start(ctx, "rag.generate", trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	answer, err := e.generator.ChatWithMessages(ctx, e.assembler.Assemble(input), llm.ChatParams{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	e.recorder.ObserveStage("generate", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return answer, nil
}

// respond enters the terminal state, records the turn and builds the response.
func (e *ragEngine) respond(
	req AskRequest,
	topK int,
	analysis query.Analysis,
	fp string,
	sources retrieval.RankedResult,
	entry *cache.Entry,
	outcome cache.Outcome,
	history *conversation.History,
	tr *runTrace,
) AskResponse {
	final, label := StateResponded, OutcomeResponded
	if entry.Degraded {
		final, label = StateDegradedResponded, OutcomeDegraded
	}
	tr.enter(final)
	e.recorder.RecordOutcome(label)

	if history != nil {
		now := time.Now()
		history.Append(
			conversation.Turn{Role: conversation.RoleUser, Content: analysis.Normalized, Timestamp: now},
			conversation.Turn{Role: conversation.RoleAssistant, Content: entry.Answer, Timestamp: now},
		)
	}

	resp := AskResponse{
		Answer:  entry.Answer,
		Sources: append([]Source{}, entry.Sources...),
		Metadata: Metadata{
			Model:          e.cfg.Model,
			RetrievedCount: len(sources),
			TopK:           topK,
			CacheHit:       outcome != cache.Computed,
			Degraded:       entry.Degraded,
			Language:       analysis.Language,
			Complexity:     string(analysis.Complexity),
			Violations:     entry.Violations,
		},
	}
	if e.cache != nil && len(sources) > 0 {
		resp.Metadata.CacheOutcome = outcome.String()
	}

	if req.Debug {
		states, attempts := tr.snapshot()
		resp.Debug = &DebugInfo{
			States:      states,
			Analysis:    analysis,
			Fingerprint: fp,
			Candidates:  append([]retrieval.Candidate{}, sources...),
			Attempts:    attempts,
		}
	}
	return resp
}

func (e *ragEngine) newEntry(answer string, sources retrieval.RankedResult, violations []string, degraded bool) *cache.Entry {
	return &cache.Entry{
		Answer:     answer,
		Sources:    toSources(sources),
		Model:      e.cfg.Model,
		Violations: violations,
		Degraded:   degraded,
	}
}

func toSources(sources retrieval.RankedResult) []Source {
	out := make([]Source, len(sources))
	for i, c := range sources {
		out[i] = Source{
			Title:   c.Chunk.DisplayTitle(),
			URL:     c.Chunk.SourceURL,
			Snippet: snippet(c.Chunk.Text, snippetRunes),
			Score:   c.RerankScore,
		}
	}
	return out
}

// snippet truncates text to at most n runes on a word boundary when possible.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// unverifiedAnswer serves an answer that failed validation twice behind an
// explicit caveat, with invalid citations removed and a sources section.
func unverifiedAnswer(answer string, result guardrail.Result, sources retrieval.RankedResult) string {
	cleaned := guardrail.StripPhantomCitations(answer, len(sources))
	cleaned = guardrail.Repair(cleaned, sources)
	return fmt.Sprintf(unverifiedCaveat, strings.Join(result.Kinds(), ", ")) + "\n\n" + cleaned
}

// extractiveAnswer lists the top passages when no answer could be generated.
func extractiveAnswer(sources retrieval.RankedResult) string {
	var b strings.Builder
	b.WriteString(extractiveCaveat)
	b.WriteString("\n\n")

	numbers := make([]int, len(sources))
	for i, c := range sources {
		numbers[i] = i + 1
		fmt.Fprintf(&b, "- **%s**: %s [%d]\n", c.Chunk.DisplayTitle(), snippet(c.Chunk.Text, snippetRunes), i+1)
	}
	b.WriteString("\n")
	b.WriteString(guardrail.FormatSources(sources, numbers))
	return b.String()
}
