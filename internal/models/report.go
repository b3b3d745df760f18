package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report is a user's complaint against the counselor of a session. It keeps
// its SessionID and CounselorID even after retention removes the session.
type Report struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string        `gorm:"size:36;not null;index" json:"session_id"`
	CounselorID string        `gorm:"size:36;not null;index" json:"counselor_id"`
	Reason      string        `gorm:"type:text;not null" json:"reason"`
	Timestamp   time.Time     `gorm:"not null;index" json:"timestamp"`
	Processed   bool          `gorm:"not null;index" json:"processed"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy *string       `gorm:"size:64" json:"processed_by,omitempty"`
	Action      *ReportAction `gorm:"size:16" json:"action,omitempty"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// Appeal is filed by a suspended counselor and resolved once by an admin.
type Appeal struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	CounselorID     string         `gorm:"size:36;not null;index" json:"counselor_id"`
	Message         string         `gorm:"type:text" json:"message"`
	StrikesAtFiling int            `gorm:"not null" json:"strikes_at_filing"`
	Timestamp       time.Time      `gorm:"not null;index" json:"timestamp"`
	Processed       bool           `gorm:"not null;index" json:"processed"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessedBy     *string        `gorm:"size:64" json:"processed_by,omitempty"`
	Outcome         *AppealOutcome `gorm:"size:32" json:"outcome,omitempty"`
}

func (a *Appeal) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
