package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/danoggin/notify/internal/api/handler"
	"github.com/danoggin/notify/internal/cache"
	"github.com/danoggin/notify/internal/config"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// gw may be nil when push credentials are not configured.
func NewRouter(st store.Store, gw push.Gateway, appCache *cache.Cache, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := handler.New(st, gw, appCache, logger)

	// --- Routes ---

	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/store", h.HealthCheckStore)
		r.Get("/cache", h.HealthCheckCache)
	})

	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Push probes
		r.Post("/notifications/test", h.SendTestNotification)
		r.Get("/notifications/test", h.SendTestNotification)

		// Badges
		r.Post("/badges/clear", h.ClearBadge)

		// Token health reports
		r.Get("/metrics/daily/{date}", h.GetDailyMetrics)
	})

	return r
}
