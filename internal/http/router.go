package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cv-screener/internal/cache"
	"cv-screener/internal/handlers"
	"cv-screener/internal/metrics"
	"cv-screener/internal/service"
	"cv-screener/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Service        service.ConversationService
	VectorStore    vectorstore.CollectionManager
	CollectionName string
	// Cache is nil when response caching is disabled.
	Cache *cache.Cache
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Metrics
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	if deps.Metrics != nil {
		r.Use(Metrics(deps.Metrics))
	}

	queryHandler := handlers.NewQueryHandler(deps.Service)
	chatHandler := handlers.NewChatHandler(deps.Service)

	var healthHandler *handlers.HealthHandler
	if deps.Cache != nil {
		healthHandler = handlers.NewHealthHandler(deps.VectorStore, deps.Cache, deps.CollectionName)
	} else {
		healthHandler = handlers.NewHealthHandler(deps.VectorStore, nil, deps.CollectionName)
	}

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/v1", func(r chi.Router) {
			r.Method(http.MethodPost, "/query", queryHandler)

			r.Post("/chat", chatHandler.ServeHTTP)
			r.Get("/chat/{sessionID}", chatHandler.GetSession)
			r.Delete("/chat/{sessionID}", chatHandler.DeleteSession)

			if deps.Cache != nil {
				cacheHandler := handlers.NewCacheHandler(deps.Cache)
				r.Get("/cache/stats", cacheHandler.Stats)
				r.Delete("/cache", cacheHandler.Clear)
			}
		})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}
