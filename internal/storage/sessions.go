package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"time"

	"gorm.io/gorm"
)

// InsertSession stores a new active session. The partial unique indexes turn
// a concurrent second booking of the same user or counselor into a conflict.
func (s *Service) InsertSession(ctx context.Context, sess *models.Session) error {
	if err := s.db(ctx).Omit("Transfers").Create(sess).Error; err != nil {
		return apperrors.FromStore(err, "active session", map[string]any{
			"user_id":      sess.UserID,
			"counselor_id": sess.CurrentCounselorID,
		})
	}
	return nil
}

// GetSession loads a session with its transfer history in order.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db(ctx).
		Preload("Transfers", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp ASC") }).
		First(&sess, "id = ?", id).Error
	if err != nil {
		return nil, apperrors.FromStore(err, "session", map[string]any{"session_id": id})
	}
	return &sess, nil
}

// ActiveSessionForUser returns the user's active session, or nil.
func (s *Service) ActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error) {
	return s.activeSession(ctx, "user_id = ?", userID)
}

// ActiveSessionForCounselor returns the active session the counselor
// currently holds, or nil.
func (s *Service) ActiveSessionForCounselor(ctx context.Context, counselorID string) (*models.Session, error) {
	return s.activeSession(ctx, "current_counselor_id = ?", counselorID)
}

func (s *Service) activeSession(ctx context.Context, cond string, arg string) (*models.Session, error) {
	var sess models.Session
	err := s.db(ctx).
		Preload("Transfers", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp ASC") }).
		Where("is_active = ?", true).Where(cond, arg).Take(&sess).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromStore(err, "session", nil)
	}
	return &sess, nil
}

// LatestSessionForUser returns the user's most recently started session,
// active or not, or nil.
func (s *Service) LatestSessionForUser(ctx context.Context, userID string) (*models.Session, error) {
	var sess models.Session
	err := s.db(ctx).Where("user_id = ?", userID).Order("start_time DESC").Take(&sess).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromStore(err, "session", nil)
	}
	return &sess, nil
}

// ActiveSessionIDsForUser lists ids of every active session of a user.
func (s *Service) ActiveSessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db(ctx).Model(&models.Session{}).
		Where("is_active = ? AND user_id = ?", true, userID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperrors.FromStore(err, "session", nil)
	}
	return ids, nil
}

// ActiveSessionIDsInvolvingCounselor lists active sessions the counselor
// currently holds, was originally assigned, previously held or appears in
// the transfer chain of.
func (s *Service) ActiveSessionIDsInvolvingCounselor(ctx context.Context, counselorID string) ([]string, error) {
	var ids []string
	transferred := s.db(ctx).Model(&models.TransferRecord{}).
		Select("session_id").
		Where("from_counselor_id = ? OR to_counselor_id = ?", counselorID, counselorID)
	err := s.db(ctx).Model(&models.Session{}).
		Where("is_active = ?", true).
		Where(s.db(ctx).
			Where("current_counselor_id = ? OR counselor_id = ? OR previous_counselor_id = ?", counselorID, counselorID, counselorID).
			Or("id IN (?)", transferred)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperrors.FromStore(err, "session", nil)
	}
	return ids, nil
}

// CloseSession deactivates an active session. It reports false when the
// session was already inactive.
func (s *Service) CloseSession(ctx context.Context, id string, end time.Time, durationMinutes int) (bool, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":        false,
			"end_time":         end,
			"duration_minutes": durationMinutes,
		})
	if res.Error != nil {
		return false, apperrors.FromStore(res.Error, "session", nil)
	}
	return res.RowsAffected == 1, nil
}

// MoveSession hands an active session from one counselor to another and
// appends the transfer record. Must run inside a transaction. It reports false
// when the session is no longer active or no longer held by from.
func (s *Service) MoveSession(ctx context.Context, id, from, to, reason string, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND is_active = ? AND current_counselor_id = ?", id, true, from).
		Updates(map[string]any{
			"current_counselor_id":  to,
			"previous_counselor_id": from,
			"transfer_count":        gorm.Expr("transfer_count + 1"),
		})
	if res.Error != nil {
		return false, apperrors.FromStore(res.Error, "active session", map[string]any{"counselor_id": to})
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	record := models.TransferRecord{
		SessionID:       id,
		FromCounselorID: from,
		ToCounselorID:   to,
		Reason:          reason,
		Timestamp:       at,
	}
	if err := s.db(ctx).Create(&record).Error; err != nil {
		return false, apperrors.FromStore(err, "transfer", nil)
	}
	return true, nil
}

// SetSessionRating stores score on an ended, unrated session owned by userID.
// It reports false when a rating was already present.
func (s *Service) SetSessionRating(ctx context.Context, id, userID string, score int) (bool, error) {
	res := s.db(ctx).Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND is_active = ? AND rating_score IS NULL", id, userID, false).
		Update("rating_score", score)
	if res.Error != nil {
		return false, apperrors.FromStore(res.Error, "session", nil)
	}
	return res.RowsAffected == 1, nil
}

// DeleteEndedSessionsBefore removes sessions that ended before cutoff
// together with their messages and transfer records. Reports are kept.
func (s *Service) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.Transaction(ctx, func(tx *Service) error {
		var ids []string
		if err := tx.db(ctx).Model(&models.Session{}).
			Where("is_active = ? AND end_time < ?", false, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return apperrors.FromStore(err, "session", nil)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.db(ctx).Where("session_id IN ?", ids).Delete(&models.Message{}).Error; err != nil {
			return apperrors.FromStore(err, "message", nil)
		}
		if err := tx.db(ctx).Where("session_id IN ?", ids).Delete(&models.TransferRecord{}).Error; err != nil {
			return apperrors.FromStore(err, "transfer", nil)
		}
		res := tx.db(ctx).Where("id IN ?", ids).Delete(&models.Session{})
		if res.Error != nil {
			return apperrors.FromStore(res.Error, "session", nil)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
