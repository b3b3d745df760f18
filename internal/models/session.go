package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the exclusive pairing of one user and one counselor.
// CounselorID is the original assignment; CurrentCounselorID moves with
// transfers. Once IsActive is false it never becomes true again.
type Session struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	UserID              string           `gorm:"size:36;not null;index" json:"user_id"`
	CounselorID         string           `gorm:"size:36;not null;index" json:"counselor_id"`
	CurrentCounselorID  string           `gorm:"size:36;not null;index" json:"current_counselor_id"`
	PreviousCounselorID *string          `gorm:"size:36;index" json:"previous_counselor_id,omitempty"`
	StartTime           time.Time        `gorm:"not null" json:"start_time"`
	EndTime             *time.Time       `gorm:"index" json:"end_time,omitempty"`
	IsActive            bool             `gorm:"not null" json:"is_active"`
	DurationMinutes     *int             `json:"duration_minutes,omitempty"`
	ConsentGiven        bool             `gorm:"not null" json:"consent_given"`
	ConsentTimestamp    time.Time        `json:"consent_timestamp"`
	TransferCount       int              `gorm:"not null" json:"transfer_count"`
	Transfers           []TransferRecord `gorm:"foreignKey:SessionID" json:"transfer_history"`
	RatingScore         *int             `json:"rating_score,omitempty"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// HasParticipant reports whether counselorID ever held the session: the
// original assignee, the current or previous holder, or either side of any
// transfer. Approval status is irrelevant. Transfers must be loaded.
func (s *Session) HasParticipant(counselorID string) bool {
	if counselorID == "" {
		return false
	}
	if s.CounselorID == counselorID || s.CurrentCounselorID == counselorID {
		return true
	}
	if s.PreviousCounselorID != nil && *s.PreviousCounselorID == counselorID {
		return true
	}
	for _, t := range s.Transfers {
		if t.FromCounselorID == counselorID || t.ToCounselorID == counselorID {
			return true
		}
	}
	return false
}

// DurationMinutesBetween rounds the elapsed time to whole minutes.
func DurationMinutesBetween(start, end time.Time) int {
	return int(end.Sub(start).Round(time.Minute) / time.Minute)
}

// TransferRecord is one append-only hand-off of a session.
type TransferRecord struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID       string    `gorm:"size:36;not null;index" json:"session_id"`
	FromCounselorID string    `gorm:"size:36;not null;index" json:"from_counselor_id"`
	ToCounselorID   string    `gorm:"size:36;not null;index" json:"to_counselor_id"`
	Reason          string    `gorm:"type:text" json:"reason"`
	Timestamp       time.Time `gorm:"not null" json:"timestamp"`
}

func (TransferRecord) TableName() string {
	return "session_transfers"
}

func (t *TransferRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return
}
