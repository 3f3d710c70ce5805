package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/storage"
)

// RoomMessages returns the recent history of a room the caller belongs to.
func (h *Handler) RoomMessages(c *gin.Context) {
	userID := c.GetString("userID")
	roomID := c.Param("id")

	member, err := h.Store.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.Store.MessagesForRoom(c.Request.Context(), roomID, limit)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// RoomPresence returns the current online count and online member ids of a
// room, for bootstrapping a client view before the socket events arrive.
func (h *Handler) RoomPresence(c *gin.Context) {
	userID := c.GetString("userID")
	roomID := c.Param("id")

	member, err := h.Store.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	count, err := h.Tracker.OnlineCountInRoom(c.Request.Context(), roomID)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("online count")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	online, err := h.Tracker.RoomOnlineMembers(c.Request.Context(), roomID)
	if err != nil {
		h.Log.Error().Err(err).Str("room", roomID).Msg("online members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "onlineCount": count, "online": online})
}

// UserPresence returns the last known status and last-seen time of a user.
func (h *Handler) UserPresence(c *gin.Context) {
	targetID := c.Param("id")

	p, err := h.Tracker.GetUserPresence(c.Request.Context(), targetID)
	if err != nil {
		h.Log.Error().Err(err).Str("user", targetID).Msg("load presence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	if p == nil {
		// No presence record yet; fall back to the durable copy.
		user, err := h.Store.GetUser(c.Request.Context(), targetID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			h.Log.Error().Err(err).Str("user", targetID).Msg("load user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": targetID, "status": user.Status, "lastSeenAt": user.LastSeenAt})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": targetID, "status": p.Status, "lastSeenAt": p.LastSeenAt})
}

// Notifications lists the caller's stored notifications.
func (h *Handler) Notifications(c *gin.Context) {
	userID := c.GetString("userID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	out, err := h.Store.NotificationsForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.Log.Error().Err(err).Str("user", userID).Msg("load notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

type markReadRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// MarkNotificationsRead flags the given stored notifications as read.
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	userID := c.GetString("userID")

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids required"})
		return
	}
	if err := h.Store.MarkNotificationsRead(c.Request.Context(), userID, req.IDs); err != nil {
		h.Log.Error().Err(err).Str("user", userID).Msg("mark notifications read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req.IDs)})
}

// Health reports liveness plus the local connection count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Hub.ConnectedCount()})
}
