package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Lock down in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the handshake and upgrades to WebSocket.
// A connection only exists to the rest of the system once the token checks
// out; an invalid token never reaches the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, err := h.userFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to upgrade connection"})
		return
	}

	client := &chathub.WebSocketClient{
		ID:     uuid.NewString(),
		User:   userID,
		Conn:   conn,
		Hub:    h.Hub,
		Router: h.Pipeline,
		Out:    make(chan models.Event, 256),
		Log:    h.Log,
	}

	h.Hub.RegisterCh <- client

	if err := h.Pipeline.Connect(c.Request.Context(), client); err != nil {
		h.Log.Error().Err(err).Str("user", userID).Msg("register presence")
		h.Hub.UnregisterCh <- client
		conn.Close()
		return
	}

	client.Run()
}
