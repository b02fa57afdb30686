package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/presence"
)

// PresenceHandlers provides HTTP handlers for presence queries.
type PresenceHandlers struct {
	tracker *presence.Tracker
	log     *zerolog.Logger
}

// NewPresenceHandlers creates a new presence handlers instance.
func NewPresenceHandlers(tracker *presence.Tracker, logger *zerolog.Logger) *PresenceHandlers {
	return &PresenceHandlers{
		tracker: tracker,
		log:     logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OnlineUsersResponse lists the users with at least one live connection.
type OnlineUsersResponse struct {
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// PresenceResponse represents a single user's presence record.
type PresenceResponse struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

// ListOnline handles online-user listing.
// GET /api/v1/presence/online
func (h *PresenceHandlers) ListOnline(c *gin.Context) {
	ids := h.tracker.ListOnlineUserIDs()
	c.JSON(http.StatusOK, OnlineUsersResponse{UserIDs: ids, Count: len(ids)})
}

// GetUser handles single-user presence lookup. Unknown users report
// offline rather than 404 so clients need no special casing.
// GET /api/v1/presence/:user_id
func (h *PresenceHandlers) GetUser(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id is required"})
		return
	}

	rec := h.tracker.Get(userID)
	resp := PresenceResponse{
		UserID: rec.UserID,
		Status: string(rec.Status),
	}
	if !rec.LastSeen.IsZero() {
		resp.LastSeen = rec.LastSeen.Format("2006-01-02T15:04:05Z07:00")
	}
	c.JSON(http.StatusOK, resp)
}
