package handlers

import (
	"context"
	"net/http"

	"cv-screener/internal/cache"
	"cv-screener/internal/contextutil"
)

// CacheAdmin exposes cache counters and invalidation.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear(ctx context.Context) error
}

// CacheHandler serves cache statistics and clears the cache.
type CacheHandler struct {
	cache CacheAdmin
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: c}
}

// CacheStatsResponse reports cache counters.
//
// swagger:model CacheStatsResponse
type CacheStatsResponse struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

// Stats handles GET /api/v1/cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()

	var rate float64
	if lookups := stats.Hits + stats.Shared + stats.Misses; lookups > 0 {
		rate = float64(stats.Hits+stats.Shared) / float64(lookups)
	}
	writeJSON(w, r.Context(), http.StatusOK, CacheStatsResponse{Stats: stats, HitRate: rate})
}

// Clear handles DELETE /api/v1/cache.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.cache.Clear(ctx); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to clear cache", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "cache cleared")
	w.WriteHeader(http.StatusNoContent)
}
