// Package session owns the lifecycle of counselling sessions: creation under
// single-session exclusivity, termination, transfer and rating.
package session

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"
	"time"

	"go.uber.org/zap"
)

// Broker creates, ends, transfers and rates sessions. Every transition runs in
// one store transaction.
type Broker struct {
	store  *storage.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewBroker Constructor
func NewBroker(store *storage.Service, logger *zap.Logger) *Broker {
	return &Broker{
		store:  store,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (b *Broker) WithClock(now func() time.Time) *Broker {
	b.now = now
	return b
}

// CreateSession pairs a consenting user with a counselor and marks the
// counselor busy. A concurrent booking of the same user or counselor loses
// with a conflict.
func (b *Broker) CreateSession(ctx context.Context, userID, counselorID string, consentGiven bool) (*models.Session, error) {
	if !consentGiven {
		return nil, apperrors.Validation("consent is required to start a session", nil)
	}

	var created *models.Session
	err := b.store.Transaction(ctx, func(tx *storage.Service) error {
		if _, err := tx.GetUserByID(ctx, userID); err != nil {
			return err
		}
		counselor, err := tx.GetCounselorByID(ctx, counselorID)
		if err != nil {
			return err
		}
		if !counselor.HasAccess() {
			return apperrors.Unavailable("counselor cannot take sessions", map[string]any{"counselor_id": counselorID})
		}

		if active, err := tx.ActiveSessionForUser(ctx, userID); err != nil {
			return err
		} else if active != nil {
			return apperrors.Conflict("user already has an active session", map[string]any{"user_id": userID})
		}
		if active, err := tx.ActiveSessionForCounselor(ctx, counselorID); err != nil {
			return err
		} else if active != nil {
			return apperrors.Conflict("counselor already has an active session", map[string]any{"counselor_id": counselorID})
		}

		now := b.now()
		sess := &models.Session{
			UserID:             userID,
			CounselorID:        counselorID,
			CurrentCounselorID: counselorID,
			StartTime:          now,
			IsActive:           true,
			ConsentGiven:       true,
			ConsentTimestamp:   now,
		}
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}
		if err := tx.MarkBusy(ctx, counselor); err != nil {
			return err
		}
		created = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("session created",
		zap.String("session_id", created.ID),
		zap.String("user_id", userID),
		zap.String("counselor_id", counselorID),
	)
	return created, nil
}

// EndSession terminates a session. Ending an inactive session returns it
// unchanged.
func (b *Broker) EndSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, _, err := b.endSession(ctx, sessionID)
	return sess, err
}

func (b *Broker) endSession(ctx context.Context, sessionID string) (*models.Session, bool, error) {
	var (
		out   *models.Session
		ended bool
	)
	err := b.store.Transaction(ctx, func(tx *storage.Service) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsActive {
			out = sess
			return nil
		}

		end := b.now()
		closed, err := tx.CloseSession(ctx, sess.ID, end, models.DurationMinutesBetween(sess.StartTime, end))
		if err != nil {
			return err
		}
		if closed {
			counselor, err := tx.GetCounselorByID(ctx, sess.CurrentCounselorID)
			if err != nil {
				return err
			}
			// Revoked or suspended counselors stay away.
			var freeTo *models.Availability
			if counselor.HasAccess() {
				available := models.AvailabilityAvailable
				freeTo = &available
			}
			if err := tx.CountSession(ctx, counselor.ID, freeTo); err != nil {
				return err
			}
			ended = true
		}
		out, err = tx.GetSession(ctx, sess.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if ended {
		b.logger.Info("session ended",
			zap.String("session_id", out.ID),
			zap.String("counselor_id", out.CurrentCounselorID),
			zap.Intp("duration_minutes", out.DurationMinutes),
		)
	}
	return out, ended, nil
}

// TransferSession hands an active session from its current counselor to an
// eligible one. The previous holder keeps read access to the history.
func (b *Broker) TransferSession(ctx context.Context, sessionID, fromCounselorID, toCounselorID, reason string) (*models.Session, error) {
	if fromCounselorID == toCounselorID {
		return nil, apperrors.Validation("cannot transfer a session to the same counselor", nil)
	}

	var out *models.Session
	err := b.store.Transaction(ctx, func(tx *storage.Service) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return apperrors.Conflict("session is not active", map[string]any{"session_id": sessionID})
		}
		if sess.CurrentCounselorID != fromCounselorID {
			return apperrors.Unauthorized("only the current counselor can transfer this session", nil)
		}

		target, err := tx.GetCounselorByID(ctx, toCounselorID)
		if err != nil {
			return err
		}
		if !target.Eligible() {
			return apperrors.Unavailable("target counselor is not available", map[string]any{"counselor_id": toCounselorID})
		}

		moved, err := tx.MoveSession(ctx, sess.ID, fromCounselorID, toCounselorID, reason, b.now())
		if err != nil {
			return err
		}
		if !moved {
			return apperrors.Conflict("session changed during transfer", map[string]any{"session_id": sessionID})
		}
		if err := tx.MarkBusy(ctx, target); err != nil {
			return err
		}

		previous, err := tx.GetCounselorByID(ctx, fromCounselorID)
		if err != nil {
			return err
		}
		if previous.HasAccess() && previous.Availability == models.AvailabilityBusy {
			if _, err := tx.ChangeAvailability(ctx, previous.ID, models.AvailabilityAvailable, "system"); err != nil {
				return err
			}
		}

		out, err = tx.GetSession(ctx, sess.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("session transferred",
		zap.String("session_id", sessionID),
		zap.String("from_counselor_id", fromCounselorID),
		zap.String("to_counselor_id", toCounselorID),
	)
	return out, nil
}

// RateSession stores the user's rating of an ended session and folds it into
// the current counselor's average. A second rating returns the stored one.
func (b *Broker) RateSession(ctx context.Context, sessionID, userID string, score int) (*models.Session, error) {
	if score < config.MinRatingScore || score > config.MaxRatingScore {
		return nil, apperrors.Validation("rating must be between 1 and 5", map[string]any{"score": score})
	}

	var out *models.Session
	err := b.store.Transaction(ctx, func(tx *storage.Service) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.UserID != userID {
			return apperrors.Unauthorized("only the session owner can rate it", nil)
		}
		if sess.IsActive {
			return apperrors.Conflict("session is still active", map[string]any{"session_id": sessionID})
		}
		if sess.RatingScore != nil {
			out = sess
			return nil
		}

		applied, err := tx.SetSessionRating(ctx, sess.ID, userID, score)
		if err != nil {
			return err
		}
		if applied {
			if err := tx.AddRating(ctx, sess.CurrentCounselorID, score); err != nil {
				return err
			}
		}
		out, err = tx.GetSession(ctx, sess.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TerminateAllForUser ends every active session of a user and returns how
// many were ended.
func (b *Broker) TerminateAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := b.store.ActiveSessionIDsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.terminate(ctx, ids)
}

// TerminateAllForCounselor ends every active session the counselor holds or
// has held.
func (b *Broker) TerminateAllForCounselor(ctx context.Context, counselorID string) (int, error) {
	ids, err := b.store.ActiveSessionIDsInvolvingCounselor(ctx, counselorID)
	if err != nil {
		return 0, err
	}
	return b.terminate(ctx, ids)
}

func (b *Broker) terminate(ctx context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		_, ended, err := b.endSession(ctx, id)
		if err != nil {
			return count, err
		}
		if ended {
			count++
		}
	}
	return count, nil
}

// GetSession returns a session by id.
func (b *Broker) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return b.store.GetSession(ctx, sessionID)
}

// ActiveSessionFor returns the active session of a user or the one a
// counselor currently holds, or nil.
func (b *Broker) ActiveSessionFor(ctx context.Context, participantID string, role models.SenderType) (*models.Session, error) {
	switch role {
	case models.SenderUser:
		return b.store.ActiveSessionForUser(ctx, participantID)
	case models.SenderCounselor:
		return b.store.ActiveSessionForCounselor(ctx, participantID)
	}
	return nil, apperrors.Validation("unknown participant role", map[string]any{"role": role})
}
