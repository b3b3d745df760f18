package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"

	"gorm.io/gorm"
)

func (s *Service) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db(ctx).Create(msg).Error; err != nil {
		return apperrors.FromStore(err, "message", nil)
	}
	return nil
}

// RecentMessages returns at most limit of the latest messages of a session in
// chronological order.
func (s *Service) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	_, limit = normalizePaging(1, limit, 50)
	var msgs []models.Message
	err := s.db(ctx).Where("session_id = ?", sessionID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, apperrors.FromStore(err, "message", nil)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagePage returns a chronological page of a session's messages.
func (s *Service) MessagePage(ctx context.Context, sessionID string, page, pageSize int) (models.Page[models.Message], error) {
	page, size := normalizePaging(page, pageSize, 50)
	q := s.db(ctx).Model(&models.Message{}).Where("session_id = ?", sessionID)
	q = q.Session(&gorm.Session{})
	out := models.Page[models.Message]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "message", nil)
	}
	if err := q.Order("timestamp ASC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "message", nil)
	}
	return out, nil
}
