package chathub

import (
	"context"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier is the fire-and-forget chat transport used when a recipient has
// no live connection.
type Notifier interface {
	Send(ctx context.Context, chatHandle, text string) error
}

// Formatter renders an event as chat text for the Notifier.
type Formatter func(recipientType models.SenderType, ev Event) string

var defaultTexts = map[EventType]string{
	EventSessionStart: "You are now connected. Say hello!",
	EventSessionEnd:   "The session has ended.",
}

func plainText(_ models.SenderType, ev Event) string {
	if ev.Delivery != nil {
		return ev.Delivery.Message.Content
	}
	if ev.Text != "" {
		return ev.Text
	}
	return defaultTexts[ev.Type]
}

const presenceTTL = 2 * pongWait

// ManagerDependencies groups the collaborators of a Manager. Redis is
// optional; without it deliveries stay local to the process.
type ManagerDependencies struct {
	Store     *storage.Service
	Notifier  Notifier
	Redis     *redis.Client
	Formatter Formatter
	Logger    *zap.Logger
}

// Manager is the delivery hub: it keeps the registry of live clients and
// pushes routed messages and notices to them, falling back to the Notifier.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client

	store      *storage.Service
	notifier   Notifier
	redis      *redis.Client
	format     Formatter
	logger     *zap.Logger
	instanceID string
}

func NewManager(deps ManagerDependencies) *Manager {
	format := deps.Formatter
	if format == nil {
		format = plainText
	}
	return &Manager{
		clients:    make(map[string]Client),
		store:      deps.Store,
		notifier:   deps.Notifier,
		redis:      deps.Redis,
		format:     format,
		logger:     logging.OrNop(deps.Logger),
		instanceID: uuid.NewString(),
	}
}

// Register attaches a live client, replacing an older connection of the same
// participant.
func (m *Manager) Register(ctx context.Context, c Client) {
	m.mu.Lock()
	old, ok := m.clients[c.GetParticipantID()]
	m.clients[c.GetParticipantID()] = c
	m.mu.Unlock()

	if ok && old != c {
		old.Close()
	}
	m.Touch(ctx, c.GetParticipantID())
	m.logger.Info("client connected", zap.String("participant_id", c.GetParticipantID()))
}

// Unregister detaches c if it is still the registered connection.
func (m *Manager) Unregister(ctx context.Context, c Client) {
	id := c.GetParticipantID()
	m.mu.Lock()
	current, ok := m.clients[id]
	if ok && current == c {
		delete(m.clients, id)
	}
	m.mu.Unlock()

	if ok && current == c {
		if m.redis != nil {
			m.redis.Del(ctx, presenceKey(id))
		}
		m.logger.Info("client disconnected", zap.String("participant_id", id))
	}
}

// Touch refreshes the cross-instance presence of a participant.
func (m *Manager) Touch(ctx context.Context, participantID string) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Set(ctx, presenceKey(participantID), m.instanceID, presenceTTL).Err(); err != nil {
		m.logger.Warn("presence refresh failed", zap.String("participant_id", participantID), zap.Error(err))
	}
}

// IsConnected reports whether a participant has a live client on this
// instance.
func (m *Manager) IsConnected(participantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[participantID]
	return ok
}

// Deliver hands a routed message to its recipient.
func (m *Manager) Deliver(ctx context.Context, d models.Delivery) {
	m.dispatch(ctx, d.RecipientID, d.RecipientType, Event{
		Type:      EventMessage,
		SessionID: d.Message.SessionID,
		Delivery:  &d,
	})
}

// Notify sends a system event to a participant.
func (m *Manager) Notify(ctx context.Context, recipientID string, recipientType models.SenderType, ev Event) {
	m.dispatch(ctx, recipientID, recipientType, ev)
}

func (m *Manager) dispatch(ctx context.Context, recipientID string, recipientType models.SenderType, ev Event) {
	if m.pushLocal(recipientID, ev) {
		return
	}
	if m.redis != nil {
		if err := m.publish(ctx, envelope{Origin: m.instanceID, RecipientID: recipientID, Event: ev}); err != nil {
			m.logger.Warn("delivery fan-out failed", zap.String("recipient_id", recipientID), zap.Error(err))
		} else if m.remotePresent(ctx, recipientID) {
			return
		}
	}
	m.notify(ctx, recipientID, recipientType, ev)
}

// pushLocal never blocks: a client whose buffer is full is dropped.
func (m *Manager) pushLocal(recipientID string, ev Event) bool {
	m.mu.RLock()
	c, ok := m.clients[recipientID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.GetSendChannel() <- ev:
		return true
	default:
		m.logger.Warn("client too slow, disconnecting", zap.String("participant_id", recipientID))
		m.Unregister(context.Background(), c)
		c.Close()
		return false
	}
}

func (m *Manager) remotePresent(ctx context.Context, participantID string) bool {
	owner, err := m.redis.Get(ctx, presenceKey(participantID)).Result()
	return err == nil && owner != "" && owner != m.instanceID
}

func (m *Manager) notify(ctx context.Context, recipientID string, recipientType models.SenderType, ev Event) {
	if m.notifier == nil || m.store == nil {
		return
	}
	handle, err := m.chatHandle(ctx, recipientID, recipientType)
	if err != nil {
		m.logger.Warn("recipient lookup failed", zap.String("recipient_id", recipientID), zap.Error(err))
		return
	}
	if err := m.notifier.Send(ctx, handle, m.format(recipientType, ev)); err != nil {
		m.logger.Warn("notification failed", zap.String("recipient_id", recipientID), zap.Error(err))
	}
}

func (m *Manager) chatHandle(ctx context.Context, id string, role models.SenderType) (string, error) {
	if role == models.SenderCounselor {
		c, err := m.store.GetCounselorByID(ctx, id)
		if err != nil {
			return "", err
		}
		return c.ExternalChatHandle, nil
	}
	u, err := m.store.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.ExternalChatHandle, nil
}

// SessionEnded returns the user to the idle conversation state and tells
// both parties.
func (m *Manager) SessionEnded(ctx context.Context, sess *models.Session) {
	if m.store != nil {
		if err := m.store.SetUserState(ctx, sess.UserID, models.StateIdle); err != nil {
			m.logger.Warn("failed to reset user state", zap.String("user_id", sess.UserID), zap.Error(err))
		}
	}
	ev := Event{Type: EventSessionEnd, SessionID: sess.ID}
	m.Notify(ctx, sess.UserID, models.SenderUser, ev)
	m.Notify(ctx, sess.CurrentCounselorID, models.SenderCounselor, ev)
}

// CloseAll disconnects every local client.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]Client)
	m.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

func presenceKey(participantID string) string {
	return "sanctuary:presence:" + participantID
}
