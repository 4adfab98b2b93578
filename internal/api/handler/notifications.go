package handler

import (
	"errors"
	"net/http"

	"github.com/danoggin/notify/internal/api/respond"
	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// TestNotificationRequest is the body of POST /notifications/test.
type TestNotificationRequest struct {
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

// ClearBadgeRequest is the body of POST /badges/clear.
type ClearBadgeRequest struct {
	UserID string `json:"userId"`
}

// SendTestNotification sends a visible test push to one device token.
// @Summary Send a test notification
// @Description Sends "Danoggin Test" to an arbitrary device token. GET reads token and message from the query string.
// @Tags notifications
// @Accept json
// @Produce json
// @Param body body TestNotificationRequest false "Target token and optional message"
// @Param token query string false "Device token (GET)"
// @Param message query string false "Notification body (GET)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/notifications/test [post]
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if r.Method == http.MethodGet {
		req.Token = r.URL.Query().Get("token")
		req.Message = r.URL.Query().Get("message")
	} else if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON", err.Error())
		return
	}

	if req.Token == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_TOKEN", "token is required")
		return
	}
	if h.gateway == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push delivery is not configured")
		return
	}

	id, err := notifications.SendTest(r.Context(), h.gateway, req.Token, req.Message)
	if err != nil {
		h.logger.Warn("test notification failed", "token_prefix", push.TokenPrefix(req.Token), "error", err)
		detail := err.Error()
		var perr *push.Error
		if errors.As(err, &perr) {
			detail = perr.Code
		}
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "SEND_FAILED", "test notification failed", detail)
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": id,
	})
}

// ClearBadge resets a user's badge count and clears it on every device.
// @Summary Clear a user's badge
// @Description Sets badgeCount to 0 and sends a silent badge=0 push to each registered device.
// @Tags notifications
// @Accept json
// @Produce json
// @Param body body ClearBadgeRequest true "User to clear"
// @Success 200 {object} map[string]any
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/badges/clear [post]
func (h *Handler) ClearBadge(w http.ResponseWriter, r *http.Request) {
	var req ClearBadgeRequest
	if err := respond.DecodeJSON(w, r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON", err.Error())
		return
	}
	if req.UserID == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER_ID", "userId is required")
		return
	}
	if h.gateway == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push delivery is not configured")
		return
	}

	err := notifications.ClearBadge(r.Context(), h.store, h.gateway, req.UserID, h.logger)
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "no user with id "+req.UserID)
		return
	}
	if err != nil {
		h.logger.Error("clear badge failed", "user_id", req.UserID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "CLEAR_FAILED", "failed to clear badge")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"success": true,
		"userId":  req.UserID,
	})
}
