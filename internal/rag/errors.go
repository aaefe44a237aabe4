package rag

import (
	"errors"
	"fmt"
)

// Caller-facing failures of AnswerQuestion. Each maps to a stable HTTP status.
var (
	// ErrInvalidQuery is a malformed request; it is never retried.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRetrievalUnavailable means the embedding provider or an index failed.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationTimeout means both generation attempts failed or timed out
	// and degraded answers are disabled.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrValidationFailed means both answers broke a guardrail and degraded
	// answers are disabled.
	ErrValidationFailed = errors.New("answer failed validation")
)

// ConfigurationError is a fatal startup problem such as an embedding
// dimension mismatch or a missing credential.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
