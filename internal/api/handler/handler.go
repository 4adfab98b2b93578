// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the store and notification packages directly; there is no
// service layer.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danoggin/notify/internal/api/respond"
	"github.com/danoggin/notify/internal/cache"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store   store.Store
	gateway push.Gateway
	cache   *cache.Cache
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Handler with shared dependencies. gw may be nil, in which
// case push endpoints answer 503.
func New(st store.Store, gw push.Gateway, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{
		store:   st,
		gateway: gw,
		cache:   c,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and whether push delivery is configured.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]any
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Danoggin Notification Service",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"push":    h.gateway != nil,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies document store connectivity.
// @Summary Store health check
// @Description Verifies the configured document store (Postgres or Firestore) is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"store":     "disconnected",
			"error":     "Store connection check failed",
			"timestamp": h.now().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"store":     "connected",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": h.now().Format(time.RFC3339),
	})
}
