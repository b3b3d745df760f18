package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	AdminID   string      `gorm:"size:64;not null;index" json:"admin_id"`
	Action    AuditAction `gorm:"size:64;not null" json:"action"`
	TargetID  *string     `gorm:"size:64;index" json:"target_id,omitempty"`
	Timestamp time.Time   `gorm:"not null;index" json:"timestamp"`
	Details   *string     `gorm:"type:text" json:"details,omitempty"`
}

func (a *AuditEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// AvailabilityChange is the persisted status-change trail of a counselor.
// ChangedBy is the counselor's own id for self-service changes.
type AvailabilityChange struct {
	ID             string       `gorm:"primaryKey;size:36" json:"id"`
	CounselorID    string       `gorm:"size:36;not null;index" json:"counselor_id"`
	PreviousStatus Availability `gorm:"size:16" json:"previous_status"`
	NewStatus      Availability `gorm:"size:16;not null" json:"new_status"`
	ChangedBy      string       `gorm:"size:64;not null" json:"changed_by"`
	Timestamp      time.Time    `gorm:"not null;index" json:"timestamp"`
}

func (a *AvailabilityChange) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
