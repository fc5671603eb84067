package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type presenceRegistry interface {
	IsOnline(userID int) bool
	OnlineUserIDs() []int
}

type lastSeenGate interface {
	MaySeeLastSeen(ctx context.Context, viewerID, ownerID int) bool
}

type lastSeenSource interface {
	GetLastSeen(ctx context.Context, userID int) (*time.Time, error)
}

// PresenceHandler answers point-in-time presence questions over REST; the
// live roster travels over the websocket.
type PresenceHandler struct {
	registry presenceRegistry
	gate     lastSeenGate
	lastSeen lastSeenSource
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(registry presenceRegistry, gate lastSeenGate, lastSeen lastSeenSource) *PresenceHandler {
	return &PresenceHandler{registry: registry, gate: gate, lastSeen: lastSeen}
}

// OnlineUsers returns the current roster.
func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online_user_ids": h.registry.OnlineUserIDs()})
}

// UserPresence returns one user's online flag and, when the viewer passes
// the owner's visibility preference, the last-seen timestamp. A viewer who
// may not see it gets the online flag alone, not an error: the preference
// must not be probeable.
func (h *PresenceHandler) UserPresence(c *gin.Context) {
	ownerID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	viewerID := c.GetInt("userID")
	online := h.registry.IsOnline(ownerID)
	response := gin.H{"user_id": ownerID, "online": online}

	if !online && h.gate.MaySeeLastSeen(c.Request.Context(), viewerID, ownerID) {
		lastSeen, err := h.lastSeen.GetLastSeen(c.Request.Context(), ownerID)
		if err == nil && lastSeen != nil {
			response["last_seen"] = lastSeen
		}
	}

	c.JSON(http.StatusOK, response)
}
