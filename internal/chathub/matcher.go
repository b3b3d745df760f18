package chathub

import (
	"context"
	"errors"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"time"

	"go.uber.org/zap"
)

// ErrNoCounselorAvailable means every candidate was ineligible or taken.
var ErrNoCounselorAvailable = errors.New("no counselor available")

// MatcherDependencies groups the collaborators of a Matcher. Queue and Hub
// are only needed by Run.
type MatcherDependencies struct {
	Store      *storage.Service
	Sessions   *session.Broker
	Counselors *counselor.Registry
	Queue      *storage.WaitingQueue
	Hub        *Manager
	Config     config.MatchConfig
	Logger     *zap.Logger
}

// Matcher assigns waiting users to counselors.
type Matcher struct {
	store      *storage.Service
	sessions   *session.Broker
	counselors *counselor.Registry
	queue      *storage.WaitingQueue
	hub        *Manager
	cfg        config.MatchConfig
	logger     *zap.Logger
}

func NewMatcher(deps MatcherDependencies) *Matcher {
	cfg := deps.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultMaxMatchAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultMatchPollInterval
	}
	return &Matcher{
		store:      deps.Store,
		sessions:   deps.Sessions,
		counselors: deps.Counselors,
		queue:      deps.Queue,
		hub:        deps.Hub,
		cfg:        cfg,
		logger:     logging.OrNop(deps.Logger),
	}
}

// Match tries up to MaxAttempts candidates for a consenting user. Losing a
// race for a counselor moves on to the next candidate; running out of
// candidates yields ErrNoCounselorAvailable.
func (m *Matcher) Match(ctx context.Context, userID string) (*models.Session, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var tried []string
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		candidateID, err := m.counselors.GetAvailableCounselor(ctx, tried...)
		if err != nil {
			return nil, err
		}
		if candidateID == "" {
			break
		}
		tried = append(tried, candidateID)

		candidate, err := m.store.GetCounselorByID(ctx, candidateID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if candidate.ID == user.ID || candidate.ExternalChatHandle == user.ExternalChatHandle {
			continue
		}
		if busy, err := m.sessions.ActiveSessionFor(ctx, candidate.ID, models.SenderCounselor); err != nil {
			return nil, err
		} else if busy != nil {
			continue
		}

		sess, err := m.sessions.CreateSession(ctx, userID, candidate.ID, true)
		switch {
		case err == nil:
			return sess, nil
		case apperrors.Is(err, apperrors.KindConflict):
			active, lookupErr := m.sessions.ActiveSessionFor(ctx, userID, models.SenderUser)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if active != nil {
				return nil, err
			}
			m.logger.Debug("lost race for counselor", zap.String("counselor_id", candidate.ID))
		case apperrors.Is(err, apperrors.KindUnavailable):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNoCounselorAvailable
}

// Assign matches a user immediately and announces the session to both
// parties. Used when no waiting queue is configured.
func (m *Matcher) Assign(ctx context.Context, userID string) (*models.Session, error) {
	sess, err := m.Match(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.announce(ctx, sess)
	return sess, nil
}

// Run drains the waiting queue from a single goroutine until ctx is done, so
// matching decisions in this process never race each other.
func (m *Matcher) Run(ctx context.Context) {
	m.logger.Info("matcher started", zap.Duration("poll_interval", m.cfg.PollInterval))
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.drain(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("matcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// drain matches queued users in order and stops at the first user nobody is
// available for, keeping them at the head of the queue.
func (m *Matcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		userID, err := m.queue.Dequeue(ctx)
		if err != nil {
			m.logger.Warn("waiting queue unavailable", zap.Error(err))
			return
		}
		if userID == "" {
			return
		}

		sess, err := m.Match(ctx, userID)
		switch {
		case err == nil:
			m.announce(ctx, sess)
		case errors.Is(err, ErrNoCounselorAvailable):
			if err := m.queue.Requeue(ctx, userID); err != nil {
				m.logger.Error("failed to requeue user", zap.String("user_id", userID), zap.Error(err))
			}
			return
		case apperrors.Is(err, apperrors.KindConflict), apperrors.Is(err, apperrors.KindNotFound):
			m.logger.Info("dropping queued user", zap.String("user_id", userID), zap.Error(err))
		default:
			m.logger.Error("match failed", zap.String("user_id", userID), zap.Error(err))
			if err := m.queue.Requeue(ctx, userID); err != nil {
				m.logger.Error("failed to requeue user", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Matcher) announce(ctx context.Context, sess *models.Session) {
	if err := m.store.SetUserState(ctx, sess.UserID, models.StateInSession); err != nil {
		m.logger.Warn("failed to update user state", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	m.logger.Info("user matched",
		zap.String("session_id", sess.ID),
		zap.String("counselor_id", sess.CurrentCounselorID),
	)
	if m.hub == nil {
		return
	}
	m.hub.Notify(ctx, sess.UserID, models.SenderUser, Event{Type: EventSessionStart, SessionID: sess.ID})
	m.hub.Notify(ctx, sess.CurrentCounselorID, models.SenderCounselor, Event{Type: EventSessionStart, SessionID: sess.ID})
}
