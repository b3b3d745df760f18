package chathub

import (
	"context"
	"encoding/json"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// inbound is what a console sends: a message for one of its sessions.
type inbound struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// WebSocketClient is a counselor's live console. Messages typed into it are
// routed like any other counselor message.
type WebSocketClient struct {
	ParticipantID string
	Role          models.SenderType
	Conn          *websocket.Conn
	Hub           *Manager
	Router        *Router
	Logger        *zap.Logger

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(participantID string, role models.SenderType, conn *websocket.Conn, hub *Manager, router *Router, logger *zap.Logger) *WebSocketClient {
	return &WebSocketClient{
		ParticipantID: participantID,
		Role:          role,
		Conn:          conn,
		Hub:           hub,
		Router:        router,
		Logger:        logging.OrNop(logger),
		send:          make(chan Event, sendBuffer),
		done:          make(chan struct{}),
	}
}

func (c *WebSocketClient) GetParticipantID() string     { return c.ParticipantID }
func (c *WebSocketClient) GetSendChannel() chan<- Event { return c.send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the pumps. Safe to call more than once.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(context.Background(), c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Hub.Touch(context.Background(), c.ParticipantID)
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Warn("websocket read failed", zap.String("participant_id", c.ParticipantID), zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.reply(Event{Type: EventError, Text: "malformed message"})
			continue
		}
		c.route(in)
	}
}

func (c *WebSocketClient) route(in inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	d, err := c.Router.RouteMessage(ctx, in.SessionID, c.ParticipantID, c.Role, in.Content)
	if err != nil {
		c.reply(Event{Type: EventError, SessionID: in.SessionID, Text: publicMessage(err)})
		return
	}
	c.Hub.Deliver(ctx, *d)
}

func (c *WebSocketClient) reply(ev Event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case ev := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// publicMessage hides internal failures from the other end.
func publicMessage(err error) string {
	if appErr := apperrors.As(err); appErr != nil && appErr.Kind != apperrors.KindInternal {
		return appErr.Message
	}
	return "message could not be delivered"
}
