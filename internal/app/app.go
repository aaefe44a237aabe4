// Package app builds the answer pipeline from configuration. The API server
// and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cv-screener/internal/cache"
	"cv-screener/internal/config"
	"cv-screener/internal/contextutil"
	"cv-screener/internal/corpus"
	"cv-screener/internal/guardrail"
	"cv-screener/internal/language"
	"cv-screener/internal/lexical"
	"cv-screener/internal/llm"
	"cv-screener/internal/metrics"
	"cv-screener/internal/prompt"
	"cv-screener/internal/query"
	"cv-screener/internal/rag"
	"cv-screener/internal/retrieval"
	"cv-screener/internal/storage"
	"cv-screener/internal/tracing"
	"cv-screener/internal/vectorstore"
)

const cacheSweepInterval = time.Minute

// VectorIndex is a vector store that also manages its collection.
type VectorIndex interface {
	vectorstore.VectorStore
	vectorstore.CollectionManager
}

// App holds every long-lived component. Close releases them.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Vectors    VectorIndex
	Collection string
	Lexical    *lexical.Index
	Embedder   llm.Embedder
	Generator  llm.Generator
	Loader     *corpus.Loader
	Engine     rag.Engine
	// Cache is nil when caching is disabled.
	Cache *cache.Cache
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Metrics
	Tracing *tracing.Provider

	closers []func(ctx context.Context) error
}

// New wires the application. Nothing is fetched from providers yet; call
// Prepare to check the embedding dimension and warm the indexes.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger := contextutil.LoggerFromContext(ctx)
	a := &App{Config: cfg, Lexical: lexical.NewIndex()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.MetricsEnabled {
		a.Metrics = metrics.New()
	}

	a.Tracing, err = tracing.NewProvider(tracing.Options{Enabled: cfg.TracingEnabled, ServiceName: "cv-screener"})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	a.closers = append(a.closers, a.Tracing.Shutdown)

	a.DB, err = storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.DB.Close() })
	if err := storage.Migrate(a.DB); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.InfoContext(ctx, "database initialized", "path", cfg.DBPath)

	if err := a.openVectorIndex(ctx); err != nil {
		return nil, err
	}

	a.Embedder, a.Generator = a.providers()

	documents := storage.NewDocumentRepo(a.DB)
	chunks := storage.NewChunkRepo(a.DB)
	a.Loader = corpus.NewLoader(documents, chunks, a.Embedder, a.Vectors, a.Collection, a.Lexical, cfg.EmbeddingDimension)

	if cfg.CacheEnabled {
		backend, err := a.cacheBackend(ctx)
		if err != nil {
			return nil, err
		}
		a.Cache = cache.New(backend, cache.Options{TTL: cfg.CacheTTL})
		a.closers = append(a.closers, func(context.Context) error { return a.Cache.Close() })
		logger.InfoContext(ctx, "answer cache ready", "backend", cfg.CacheBackend, "ttl", cfg.CacheTTL)
	}

	var reranker retrieval.Reranker
	if cfg.RerankEnabled {
		reranker = retrieval.OverlapReranker{Weight: cfg.RerankWeight}
	}
	retriever := retrieval.NewRetriever(a.Embedder, a.Vectors, a.Collection, a.Lexical, chunks,
		retrieval.WeightedSum{Alpha: cfg.FusionAlpha}, reranker)

	detector := language.NewDetector(0)
	analyzer := query.NewAnalyzer(detector, query.Options{
		RequiredLanguage: cfg.RequiredLanguage,
		Policy:           cfg.LanguagePolicy,
		ShortQueryWords:  cfg.ShortQueryWords,
	})
	assembler := prompt.NewAssembler(prompt.Options{
		Language:       cfg.RequiredLanguage,
		MaxAnswerWords: cfg.MaxAnswerWords,
		FewShot:        true,
	})
	validator := guardrail.NewValidator(detector, cfg.MaxAnswerWords)

	opts := []rag.Option{rag.WithTracer(a.Tracing.Tracer("cv-screener/internal/rag"))}
	if a.Cache != nil {
		opts = append(opts, rag.WithCache(a.Cache))
	}
	if a.Metrics != nil {
		opts = append(opts, rag.WithRecorder(a.Metrics))
	}

	a.Engine, err = rag.NewEngine(rag.Config{
		Model:             cfg.LLMModelName,
		TopK:              cfg.TopK,
		PoolSize:          cfg.CandidatePoolSize,
		Alpha:             cfg.FusionAlpha,
		Rerank:            cfg.RerankEnabled,
		Language:          cfg.RequiredLanguage,
		Temperature:       float32(cfg.LLMTemperature),
		MaxTokens:         cfg.LLMMaxTokens,
		GenerationTimeout: cfg.GenerationTimeout,
		DegradeOnFailure:  cfg.DegradeOnFailure,
	}, analyzer, retriever, assembler, validator, a.Generator, opts...)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "answer engine initialized", "model", cfg.LLMModelName, "top_k", cfg.TopK)
	return a, nil
}

// Prepare checks that the embedder produces vectors of the configured size,
// preloads the llama.cpp model if needed and rebuilds the BM25 index.
func (a *App) Prepare(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	if a.Config.LLMProvider == config.ProviderLlamaCPP {
		loader := llm.NewModelLoader(a.Config.LLMBaseURL)
		if err := loader.LoadModel(ctx, a.Config.LLMModelName, nil); err != nil {
			logger.WarnContext(ctx, "failed to preload model", "model", a.Config.LLMModelName, "error", err)
		}
	}

	vectors, err := a.Embedder.EmbedTexts(ctx, []string{"dimension probe"})
	if err != nil {
		if errors.Is(err, llm.ErrDimensionMismatch) {
			return &rag.ConfigurationError{Field: "EMBEDDING_DIMENSION", Reason: "embedder output does not match", Err: err}
		}
		return fmt.Errorf("failed to validate embedding client: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != a.Config.EmbeddingDimension {
		got := 0
		if len(vectors) == 1 {
			got = len(vectors[0])
		}
		return &rag.ConfigurationError{
			Field:  "EMBEDDING_DIMENSION",
			Reason: fmt.Sprintf("configured %d, embedder returned %d", a.Config.EmbeddingDimension, got),
			Err:    llm.ErrDimensionMismatch,
		}
	}
	logger.InfoContext(ctx, "embedding client validated", "vector_size", a.Config.EmbeddingDimension)

	return a.Loader.RefreshLexical(ctx)
}

// Close releases resources in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openVectorIndex(ctx context.Context) error {
	cfg := a.Config
	logger := contextutil.LoggerFromContext(ctx)

	switch cfg.VectorBackend {
	case config.VectorBackendQdrant:
		store, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
		if err != nil {
			return fmt.Errorf("failed to create Qdrant client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.Vectors, a.Collection = store, cfg.QdrantCollection
	case config.VectorBackendPgvector:
		store, err := vectorstore.NewPgvectorStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { store.Close(); return nil })
		a.Vectors, a.Collection = store, cfg.PgvectorTable
	default:
		a.Vectors, a.Collection = vectorstore.NewMemoryStore(), cfg.QdrantCollection
	}

	if err := a.Vectors.EnsureCollection(ctx, a.Collection, cfg.EmbeddingDimension); err != nil {
		if errors.Is(err, vectorstore.ErrDimensionMismatch) {
			return &rag.ConfigurationError{Field: "EMBEDDING_DIMENSION", Reason: "vector index was built with another size", Err: err}
		}
		return fmt.Errorf("failed to ensure vector collection: %w", err)
	}
	logger.InfoContext(ctx, "vector index ready",
		"backend", cfg.VectorBackend, "collection", a.Collection, "vector_size", cfg.EmbeddingDimension)
	return nil
}

// providers builds the embedder and generator, each wrapped with retries.
func (a *App) providers() (llm.Embedder, llm.Generator) {
	cfg := a.Config

	policy := llm.DefaultRetryPolicy(cfg.ProviderMaxAttempts)
	if a.Metrics != nil {
		policy.OnRetry = a.Metrics.ProviderRetry
	}

	var (
		embedder  llm.Embedder
		generator llm.Generator
	)
	switch cfg.LLMProvider {
	case config.ProviderLlamaCPP:
		embeddingURL := cfg.EmbeddingBaseURL
		if embeddingURL == "" {
			embeddingURL = cfg.LLMBaseURL
		}
		embedder = llm.NewEmbeddingsClient(embeddingURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDimension)
		generator = llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)
	default:
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.LLMAPIKey,
			BaseURL:        cfg.LLMBaseURL,
			Model:          cfg.LLMModelName,
			EmbeddingModel: cfg.EmbeddingModelName,
			Dimension:      cfg.EmbeddingDimension,
		})
		embedder, generator = client, client
	}

	return &llm.RetryingEmbedder{Embedder: embedder, Policy: policy},
		&llm.RetryingGenerator{Generator: generator, Policy: policy}
}

func (a *App) cacheBackend(ctx context.Context) (cache.Backend, error) {
	cfg := a.Config
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		backend, err := cache.NewRedisBackend(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return backend, nil
	case config.CacheBackendBadger:
		backend, err := cache.NewBadgerBackend(cfg.BadgerPath, slog.Default().With("component", "badger"))
		if err != nil {
			return nil, fmt.Errorf("failed to open badger cache: %w", err)
		}
		return backend, nil
	default:
		return cache.NewMemoryBackend(cacheSweepInterval), nil
	}
}
