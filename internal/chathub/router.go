package chathub

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Router validates chat messages against the session participant set,
// stores them and returns who should receive them. It never delivers.
type Router struct {
	sessions *session.Broker
	store    *storage.Service
	logger   *zap.Logger
	now      func() time.Time
}

func NewRouter(sessions *session.Broker, store *storage.Service, logger *zap.Logger) *Router {
	return &Router{
		sessions: sessions,
		store:    store,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RouteMessage stores a message from a participant of an active session and
// returns the counterpart as the delivery target.
func (r *Router) RouteMessage(ctx context.Context, sessionID, senderID string, senderType models.SenderType, content string) (*models.Delivery, error) {
	if !senderType.Valid() {
		return nil, apperrors.Validation("invalid sender type", map[string]any{"sender_type": senderType})
	}
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(sess, senderID, senderType); err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, apperrors.Conflict("session is not active", map[string]any{"session_id": sessionID})
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("message content is empty", nil)
	}

	msg := models.Message{
		SessionID:  sess.ID,
		SenderID:   senderID,
		SenderType: senderType,
		Content:    content,
		Timestamp:  r.now(),
	}
	if err := r.store.InsertMessage(ctx, &msg); err != nil {
		return nil, err
	}

	d := &models.Delivery{Message: msg, RecipientType: senderType.Counterpart()}
	if senderType == models.SenderUser {
		d.RecipientID = sess.CurrentCounselorID
	} else {
		d.RecipientID = sess.UserID
	}
	r.logger.Debug("message routed",
		zap.String("session_id", sess.ID),
		zap.String("sender_type", string(senderType)),
		zap.String("recipient_id", d.RecipientID),
	)
	return d, nil
}

// GetMessageHistory returns up to limit of the latest messages in
// chronological order.
func (r *Router) GetMessageHistory(ctx context.Context, sessionID, requesterID string, requesterType models.SenderType, limit int) ([]models.Message, error) {
	if err := r.authorizeRead(ctx, sessionID, requesterID, requesterType); err != nil {
		return nil, err
	}
	return r.store.RecentMessages(ctx, sessionID, limit)
}

// GetMessageHistoryPage returns a chronological page with the total count.
func (r *Router) GetMessageHistoryPage(ctx context.Context, sessionID, requesterID string, requesterType models.SenderType, page, pageSize int) (models.Page[models.Message], error) {
	if err := r.authorizeRead(ctx, sessionID, requesterID, requesterType); err != nil {
		return models.Page[models.Message]{}, err
	}
	return r.store.MessagePage(ctx, sessionID, page, pageSize)
}

func (r *Router) authorizeRead(ctx context.Context, sessionID, requesterID string, requesterType models.SenderType) error {
	if !requesterType.Valid() {
		return apperrors.Validation("invalid requester type", map[string]any{"requester_type": requesterType})
	}
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return authorize(sess, requesterID, requesterType)
}

// authorize admits the session's user, or any counselor who ever held the
// session regardless of their current approval.
func authorize(sess *models.Session, participantID string, role models.SenderType) error {
	switch role {
	case models.SenderUser:
		if participantID != "" && sess.UserID == participantID {
			return nil
		}
	case models.SenderCounselor:
		if sess.HasParticipant(participantID) {
			return nil
		}
	}
	return apperrors.Unauthorized("not a participant of this session", nil)
}
