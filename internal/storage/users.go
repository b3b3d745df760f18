package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"time"

	"gorm.io/gorm/clause"
)

// SaveUserIfNotExists returns the user behind a chat handle, creating it on
// first contact. LastSeenAt is refreshed either way.
func (s *Service) SaveUserIfNotExists(ctx context.Context, handle string) (*models.User, error) {
	if handle == "" {
		return nil, apperrors.Validation("chat handle is required", nil)
	}
	now := time.Now().UTC()
	user := models.User{ExternalChatHandle: handle, LastSeenAt: now}
	err := s.db(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_chat_handle"}}, DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return nil, apperrors.FromStore(err, "user", nil)
	}
	if err := s.db(ctx).Model(&models.User{}).
		Where("external_chat_handle = ?", handle).
		Update("last_seen_at", now).Error; err != nil {
		return nil, apperrors.FromStore(err, "user", nil)
	}
	return s.GetUserByChatHandle(ctx, handle)
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, apperrors.FromStore(err, "user", map[string]any{"user_id": id})
	}
	return &user, nil
}

func (s *Service) GetUserByChatHandle(ctx context.Context, handle string) (*models.User, error) {
	var user models.User
	if err := s.db(ctx).First(&user, "external_chat_handle = ?", handle).Error; err != nil {
		return nil, apperrors.FromStore(err, "user", nil)
	}
	return &user, nil
}

// SetUserState stores the conversation-layer state of a user.
func (s *Service) SetUserState(ctx context.Context, userID string, state models.ConversationState) error {
	res := s.db(ctx).Model(&models.User{}).Where("id = ?", userID).Update("conversation_state", state)
	if res.Error != nil {
		return apperrors.FromStore(res.Error, "user", nil)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("user", map[string]any{"user_id": userID})
	}
	return nil
}
