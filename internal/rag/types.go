package rag

import (
	"cv-screener/internal/cache"
	"cv-screener/internal/query"
	"cv-screener/internal/retrieval"
)

// AskRequest represents a question about the CV corpus.
type AskRequest struct {
	// Question is the user's question to answer.
	Question string `json:"question"`
	// TopK optionally overrides the configured number of sources.
	TopK int `json:"top_k,omitempty"`
	// Debug enables debug mode, returning scores and visited states.
	Debug bool `json:"debug,omitempty"`
}

// Source is a retrieved chunk cited by an answer.
type Source = cache.Source

// Metadata describes how an answer was produced.
type Metadata struct {
	Model          string   `json:"model"`
	RetrievedCount int      `json:"retrieved_count"`
	TopK           int      `json:"top_k"`
	CacheHit       bool     `json:"cache_hit"`
	CacheOutcome   string   `json:"cache_outcome,omitempty"`
	Degraded       bool     `json:"degraded"`
	Language       string   `json:"language"`
	Complexity     string   `json:"complexity"`
	Violations     []string `json:"violations,omitempty"`
}

// AskResponse is the answer, its sources in rank order, and metadata.
type AskResponse struct {
	Answer   string     `json:"answer"`
	Sources  []Source   `json:"sources"`
	Metadata Metadata   `json:"metadata"`
	Debug    *DebugInfo `json:"debug,omitempty"`
}

// DebugInfo contains the pipeline trace for evaluation.
type DebugInfo struct {
	States      []State               `json:"states"`
	Analysis    query.Analysis        `json:"analysis"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	Candidates  []retrieval.Candidate `json:"candidates"`
	Attempts    []Attempt             `json:"attempts,omitempty"`
}

// Attempt records one generation call.
type Attempt struct {
	Number     int      `json:"number"`
	Error      string   `json:"error,omitempty"`
	Violations []string `json:"violations,omitempty"`
}
