package handler

import (
	"net/http"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Consoles are served from other origins; access is gated by the token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an authenticated counselor to a live console.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	counselorID := subject(c)
	if _, err := h.counselors.Get(c.Request.Context(), counselorID); err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("counselor_id", counselorID), zap.Error(err))
		return
	}

	client := chathub.NewWebSocketClient(counselorID, models.SenderCounselor, conn, h.hub, h.router, h.logger)
	h.hub.Register(c.Request.Context(), client)
	client.Run()
}
