package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"cv-screener/internal/cache"
	"cv-screener/internal/metrics"
	"cv-screener/internal/rag"
	"cv-screener/internal/service/mocks"
	"cv-screener/internal/vectorstore"
)

func newDeps(t *testing.T, ctrl *gomock.Controller) *Deps {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	if err := store.EnsureCollection(context.Background(), "cv_chunks", 4); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	return &Deps{
		Service:        mocks.NewMockConversationService(ctrl),
		VectorStore:    store,
		CollectionName: "cv_chunks",
	}
}

func TestNewRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router := NewRouter(newDeps(t, ctrl))
	if router == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Routes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newDeps(t, ctrl)
	backend := cache.NewMemoryBackend(0)
	deps.Cache = cache.New(backend, cache.Options{})
	defer func() { _ = deps.Cache.Close() }()
	deps.Metrics = metrics.New()
	router := NewRouter(deps)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"query exists", http.MethodPost, "/api/v1/query", "{", http.StatusBadRequest},
		{"query method not allowed", http.MethodGet, "/api/v1/query", "", http.StatusMethodNotAllowed},
		{"chat exists", http.MethodPost, "/api/v1/chat", "{", http.StatusBadRequest},
		{"cache stats", http.MethodGet, "/api/v1/cache/stats", "", http.StatusOK},
		{"cache clear", http.MethodDelete, "/api/v1/cache", "", http.StatusNoContent},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/v1/query", "", http.StatusNoContent},
		{"unknown", http.MethodGet, "/api/v2/query", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Router %s %s status = %v, want %v", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_OptionalRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router := NewRouter(newDeps(t, ctrl))

	for _, path := range []string{"/api/v1/cache/stats", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404 when disabled", path, w.Code)
		}
	}
}

func TestRouter_QueryRecordsMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newDeps(t, ctrl)
	deps.Metrics = metrics.New()
	deps.Service.(*mocks.MockConversationService).EXPECT().
		Query(gomock.Any(), gomock.Any()).
		Return(rag.AskResponse{Answer: "Evelyn Hamilton [1]."}, nil)
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"question":"Who knows Glue?"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `route="/api/v1/query"`) {
		t.Errorf("metrics output missing query route:\n%s", w.Body.String())
	}
}
