package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one immutable chat line inside a session.
type Message struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string     `gorm:"size:36;not null;index:idx_session_msg" json:"session_id"`
	SenderID   string     `gorm:"size:36;not null" json:"sender_id"`
	SenderType SenderType `gorm:"size:16;not null" json:"sender_type"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Timestamp  time.Time  `gorm:"not null;index:idx_session_msg" json:"timestamp"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
