package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cv-screener/internal/vectorstore"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	if err := store.EnsureCollection(context.Background(), "cv_chunks", 4); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}

	tests := []struct {
		name       string
		collection string
		cache      Pinger
		wantStatus int
		wantState  string
		wantCache  string
	}{
		{"healthy without cache", "cv_chunks", nil, http.StatusOK, "healthy", "disabled"},
		{"healthy with cache", "cv_chunks", pingFunc(func(context.Context) error { return nil }), http.StatusOK, "healthy", "ok"},
		{"cache down", "cv_chunks", pingFunc(func(context.Context) error { return errors.New("redis: connection refused") }), http.StatusOK, "degraded", "error"},
		{"missing collection", "other", nil, http.StatusServiceUnavailable, "unhealthy", "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(store, tt.cache, tt.collection)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantState {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantState)
			}
			if resp.Checks["cache"] != tt.wantCache {
				t.Errorf("cache check = %q, want %q", resp.Checks["cache"], tt.wantCache)
			}
		})
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	handler := NewHealthHandler(vectorstore.NewMemoryStore(), nil, "cv_chunks")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
