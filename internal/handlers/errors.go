package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cv-screener/internal/contextutil"
	"cv-screener/internal/rag"
	"cv-screener/internal/service"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusForError maps service and engine errors to an HTTP status and a
// client-facing message.
func statusForError(err error) (int, string) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation error: " + validationErr.Error()
	case errors.Is(err, rag.ErrInvalidQuery), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid query: " + err.Error()
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable, "Retrieval unavailable"
	case errors.Is(err, rag.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Answer generation timed out"
	case errors.Is(err, rag.ErrValidationFailed):
		return http.StatusBadGateway, "Answer failed validation"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// handleServiceError logs err and writes the mapped error response.
func handleServiceError(w http.ResponseWriter, ctx context.Context, err error) {
	status, message := statusForError(err)
	logger := contextutil.LoggerFromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "error", err, "status", status)
	} else {
		logger.WarnContext(ctx, "request rejected", "error", err, "status", status)
	}
	writeError(w, status, message)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// debugRequested reports whether the debug query parameter is set.
func debugRequested(r *http.Request) bool {
	v := r.URL.Query().Get("debug")
	return v == "1" || v == "true" || v == "TRUE" || v == "True"
}
