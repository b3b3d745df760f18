package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an anonymous help-seeker. ID is the only identity ever shown to
// counselors; ExternalChatHandle never leaves the broker.
type User struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	ExternalChatHandle string            `gorm:"uniqueIndex;not null" json:"-"`
	ConversationState  ConversationState `gorm:"size:32" json:"conversation_state"`
	CreatedAt          time.Time         `json:"created_at"`
	LastSeenAt         time.Time         `json:"last_seen_at"`
}

// BeforeCreate generates a UUID for the user if the ID is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
