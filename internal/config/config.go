package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Supported provider and backend names.
const (
	ProviderOpenAI   = "openai"
	ProviderLlamaCPP = "llamacpp"

	VectorBackendQdrant   = "qdrant"
	VectorBackendPgvector = "pgvector"
	VectorBackendMemory   = "memory"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendBadger = "badger"

	LanguagePolicyReject  = "reject"
	LanguagePolicyEnforce = "enforce"
)

// Config holds all configuration for the application.
type Config struct {
	LLMProvider    string
	LLMBaseURL     string
	LLMModelName   string
	LLMAPIKey      string
	LLMTemperature float64
	LLMMaxTokens   int

	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingDimension int

	ProviderMaxAttempts int

	DBPath           string
	VectorBackend    string
	QdrantURL        string
	QdrantCollection string
	DatabaseURL      string
	PgvectorTable    string

	TopK              int
	CandidatePoolSize int
	FusionAlpha       float64
	RerankEnabled     bool
	RerankWeight      float64

	MaxHistory      int
	ShortQueryWords int
	SessionIdleTTL  time.Duration

	RequiredLanguage  string
	LanguagePolicy    string
	MaxAnswerWords    int
	GenerationTimeout time.Duration
	DegradeOnFailure  bool

	CacheEnabled bool
	CacheBackend string
	CacheTTL     time.Duration
	RedisURL     string
	BadgerPath   string

	MetricsEnabled bool
	TracingEnabled bool

	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates the result.
// If a .env file exists in the current directory or a parent, it is loaded first;
// variables already present in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	var errs []error
	p := &parser{errs: &errs}

	cfg := &Config{
		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		LLMModelName:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMTemperature: p.float("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:   p.int("LLM_MAX_TOKENS", 1000),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: p.int("EMBEDDING_DIMENSION", 1536),

		ProviderMaxAttempts: p.int("PROVIDER_MAX_ATTEMPTS", 3),

		DBPath:           getEnv("DB_PATH", "./data/cv-screener.db"),
		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendQdrant)),
		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "cv_chunks"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PgvectorTable:    getEnv("PGVECTOR_TABLE", "cv_chunks"),

		TopK:              p.int("TOP_K", 5),
		CandidatePoolSize: p.int("CANDIDATE_POOL_SIZE", 20),
		FusionAlpha:       p.float("FUSION_ALPHA", 0.6),
		RerankEnabled:     p.bool("RERANK_ENABLED", true),
		RerankWeight:      p.float("RERANK_WEIGHT", 0.3),

		MaxHistory:      p.int("MAX_HISTORY", 10),
		ShortQueryWords: p.int("SHORT_QUERY_WORDS", 3),
		SessionIdleTTL:  p.duration("SESSION_IDLE_TTL", 30*time.Minute),

		RequiredLanguage:  getEnv("REQUIRED_LANGUAGE", "en"),
		LanguagePolicy:    strings.ToLower(getEnv("LANGUAGE_POLICY", LanguagePolicyEnforce)),
		MaxAnswerWords:    p.int("MAX_ANSWER_WORDS", 600),
		GenerationTimeout: p.duration("GENERATION_TIMEOUT", 60*time.Second),
		DegradeOnFailure:  p.bool("DEGRADE_ON_FAILURE", true),

		CacheEnabled: p.bool("CACHE_ENABLED", true),
		CacheBackend: strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendMemory)),
		CacheTTL:     p.duration("CACHE_TTL", time.Hour),
		RedisURL:     getEnv("REDIS_URL", ""),
		BadgerPath:   getEnv("BADGER_PATH", "./data/cache"),

		MetricsEnabled: p.bool("METRICS_ENABLED", true),
		TracingEnabled: p.bool("TRACING_ENABLED", false),

		APIPort:   getEnv("API_PORT", "9000"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	// SQLite and badger need their parent directories.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// validate returns every problem found rather than stopping at the first one.
func (c *Config) validate() []error {
	var errs []error

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.LLMAPIKey == "" {
			errs = append(errs, fmt.Errorf("LLM_API_KEY is required for provider %q", c.LLMProvider))
		}
	case ProviderLlamaCPP:
		if c.LLMBaseURL == "" {
			c.LLMBaseURL = "http://localhost:8080"
		}
		if c.EmbeddingBaseURL == "" {
			c.EmbeddingBaseURL = "http://localhost:8081"
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be %q or %q (got %q)", ProviderOpenAI, ProviderLlamaCPP, c.LLMProvider))
	}

	if c.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be greater than 0"))
	}
	if c.ProviderMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2 (got %g)", c.LLMTemperature))
	}
	if c.LLMMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must be positive"))
	}

	switch c.VectorBackend {
	case VectorBackendQdrant, VectorBackendMemory:
	case VectorBackendPgvector:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the pgvector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("VECTOR_BACKEND must be one of qdrant, pgvector, memory (got %q)", c.VectorBackend))
	}

	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive"))
	}
	if c.CandidatePoolSize < c.TopK {
		errs = append(errs, fmt.Errorf("CANDIDATE_POOL_SIZE (%d) must be at least TOP_K (%d)", c.CandidatePoolSize, c.TopK))
	}
	if c.FusionAlpha < 0 || c.FusionAlpha > 1 {
		errs = append(errs, fmt.Errorf("FUSION_ALPHA must be within [0,1] (got %g)", c.FusionAlpha))
	}
	if c.RerankWeight < 0 || c.RerankWeight > 1 {
		errs = append(errs, fmt.Errorf("RERANK_WEIGHT must be within [0,1] (got %g)", c.RerankWeight))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("MAX_HISTORY must be non-negative"))
	}
	if c.MaxAnswerWords <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ANSWER_WORDS must be positive"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be positive"))
	}

	tag, err := language.Parse(c.RequiredLanguage)
	if err != nil {
		errs = append(errs, fmt.Errorf("REQUIRED_LANGUAGE %q is not a valid language tag: %w", c.RequiredLanguage, err))
	} else {
		base, _ := tag.Base()
		c.RequiredLanguage = base.String()
	}
	switch c.LanguagePolicy {
	case LanguagePolicyReject, LanguagePolicyEnforce:
	default:
		errs = append(errs, fmt.Errorf("LANGUAGE_POLICY must be %q or %q (got %q)", LanguagePolicyReject, LanguagePolicyEnforce, c.LanguagePolicy))
	}

	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendBadger:
	case CacheBackendRedis:
		if c.CacheEnabled && c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be one of memory, redis, badger (got %q)", c.CacheBackend))
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive when the cache is enabled"))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text (got %q)", c.LogFormat))
	}

	return errs
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed variables and records parse failures instead of aborting.
type parser struct {
	errs *[]error
}

func (p *parser) int(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a valid integer: %w", key, err))
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a valid number: %w", key, err))
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return def
	}
	return v
}

// duration accepts Go duration strings ("90s") or a bare number of seconds.
func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return def
	}
	return v
}
