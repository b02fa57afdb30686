package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/signaling"
	"github.com/ringlink/ringlink-server/internal/store"
)

const (
	defaultRecentCallsLimit = 20
	maxRecentCallsLimit     = 100
)

// CallsHandlers provides HTTP handlers for call-history endpoints.
type CallsHandlers struct {
	store store.CallStore
	log   *zerolog.Logger
}

// NewCallsHandlers creates a new calls handlers instance. The store
// may be nil when history persistence is disabled.
func NewCallsHandlers(st store.CallStore, logger *zerolog.Logger) *CallsHandlers {
	return &CallsHandlers{
		store: st,
		log:   logger,
	}
}

// CallResponse represents a finished call in API responses.
type CallResponse struct {
	CallID          string  `json:"call_id"`
	Type            string  `json:"type"`
	CallerID        string  `json:"caller_id"`
	ReceiverID      string  `json:"receiver_id,omitempty"`
	GroupID         string  `json:"group_id,omitempty"`
	Status          string  `json:"status"`
	InitiatedAt     string  `json:"initiated_at"`
	ConnectedAt     *string `json:"connected_at,omitempty"`
	EndedAt         *string `json:"ended_at,omitempty"`
	DurationSeconds int64   `json:"duration_seconds"`
	EndReason       string  `json:"end_reason,omitempty"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// callToResponse converts a signaling.CallSession to CallResponse.
func callToResponse(sess signaling.CallSession) CallResponse {
	resp := CallResponse{
		CallID:          sess.CallID,
		Type:            string(sess.Type),
		CallerID:        sess.CallerID,
		ReceiverID:      sess.ReceiverID,
		GroupID:         sess.GroupID,
		Status:          string(sess.Status),
		InitiatedAt:     sess.InitiatedAt.Format(timeLayout),
		DurationSeconds: sess.DurationSeconds,
		EndReason:       sess.EndReason,
	}
	if sess.ConnectedAt != nil {
		connectedAt := sess.ConnectedAt.Format(timeLayout)
		resp.ConnectedAt = &connectedAt
	}
	if sess.EndedAt != nil {
		endedAt := sess.EndedAt.Format(timeLayout)
		resp.EndedAt = &endedAt
	}
	return resp
}

// ListRecent handles recent call-history listing for the caller.
// GET /api/v1/calls/recent?limit=20
func (h *CallsHandlers) ListRecent(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "call history is disabled"})
		return
	}

	userID := c.GetString(ContextKeyUserID)

	limit := defaultRecentCallsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxRecentCallsLimit)
	}

	sessions, err := h.store.ListRecentCalls(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list recent calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]CallResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, callToResponse(sess))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

// GetCall handles a single finished-call lookup.
// GET /api/v1/calls/:call_id
func (h *CallsHandlers) GetCall(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "call history is disabled"})
		return
	}

	callID := c.Param("call_id")
	sess, err := h.store.GetCall(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, store.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found"})
			return
		}
		h.log.Error().Err(err).Str("call_id", callID).Msg("failed to load call")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, callToResponse(*sess))
}
