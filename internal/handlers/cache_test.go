package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cv-screener/internal/cache"
)

type fakeCache struct {
	stats    cache.Stats
	clearErr error
	cleared  int
}

func (f *fakeCache) Stats() cache.Stats { return f.stats }

func (f *fakeCache) Clear(context.Context) error {
	f.cleared++
	return f.clearErr
}

func TestCacheHandler_Stats(t *testing.T) {
	h := NewCacheHandler(&fakeCache{stats: cache.Stats{Hits: 2, Shared: 1, Misses: 1, Sets: 1}})

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["hits"] != 2 || resp["misses"] != 1 || resp["hit_rate"] != 0.75 {
		t.Errorf("stats = %v", resp)
	}
}

func TestCacheHandler_Clear(t *testing.T) {
	fc := &fakeCache{}
	h := NewCacheHandler(fc)

	w := httptest.NewRecorder()
	h.Clear(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	if w.Code != http.StatusNoContent || fc.cleared != 1 {
		t.Errorf("status = %d cleared = %d", w.Code, fc.cleared)
	}

	fc.clearErr = errors.New("redis: connection refused")
	w = httptest.NewRecorder()
	h.Clear(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
