package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danoggin/notify/internal/api/respond"
	"github.com/danoggin/notify/internal/cache"
	"github.com/danoggin/notify/internal/store"
)

// GetDailyMetrics returns the stored token health report for one UTC day.
// @Summary Get daily token metrics
// @Description Returns the aggregated token health report for a UTC date. Reports older than yesterday are cached longer since they no longer change.
// @Tags metrics
// @Produce json
// @Param date path string true "UTC date (YYYY-MM-DD)"
// @Success 200 {object} store.DailyMetrics
// @Success 304 "Not modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/metrics/daily/{date} [get]
func (h *Handler) GetDailyMetrics(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_DATE", "date must be formatted YYYY-MM-DD")
		return
	}

	cacheKey := "metrics:daily:" + date
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, h.reportTTL(day), true)
		return
	}

	m, err := h.store.GetDailyMetrics(r.Context(), date)
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no metrics recorded for "+date)
		return
	}
	if err != nil {
		h.logger.Error("get daily metrics failed", "date", date, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load metrics")
		return
	}

	data, err := json.Marshal(m)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to encode metrics")
		return
	}

	ttl := h.reportTTL(day)
	etag := h.cache.Set(cacheKey, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

// reportTTL caches finished days longer than yesterday's report, which the
// daily job may still overwrite.
func (h *Handler) reportTTL(day time.Time) time.Duration {
	yesterday := h.now().Truncate(24*time.Hour).AddDate(0, 0, -1)
	if day.Before(yesterday) {
		return cache.TTLPastReport
	}
	return cache.TTLFreshReport
}
