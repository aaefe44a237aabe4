package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrDimensionMismatch is returned when a provider returns vectors of an unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ProviderError describes a failed call to an embedding or generation provider.
// StatusCode is 0 when the request never produced an HTTP response.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call may succeed: transport
// failures, rate limiting and server errors.
func (e *ProviderError) Temporary() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsTemporary reports whether err wraps a temporary ProviderError.
func IsTemporary(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary()
	}
	return false
}
