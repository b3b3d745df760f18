package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Counselor is a vetted volunteer. A counselor is eligible for matching only
// while approved, not suspended and available.
type Counselor struct {
	ID                 string       `gorm:"primaryKey;size:36" json:"id"`
	ExternalChatHandle string       `gorm:"uniqueIndex;not null" json:"-"`
	Availability       Availability `gorm:"size:16;not null;index" json:"availability"`
	IsApproved         bool         `gorm:"not null;index" json:"is_approved"`
	IsSuspended        bool         `gorm:"not null;index" json:"is_suspended"`
	Strikes            int          `gorm:"not null" json:"strikes"`
	SessionsHandled    int          `gorm:"not null" json:"sessions_handled"`
	RatingCount        int          `gorm:"not null" json:"rating_count"`
	RatingTotal        int          `gorm:"not null" json:"rating_total"`
	CreatedAt          time.Time    `json:"created_at"`
	LastActiveAt       time.Time    `gorm:"index" json:"last_active_at"`
}

func (c *Counselor) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Availability == "" {
		c.Availability = AvailabilityAway
	}
	return
}

// HasAccess reports isApproved ∧ ¬isSuspended.
func (c *Counselor) HasAccess() bool {
	return c.IsApproved && !c.IsSuspended
}

// Eligible reports whether the counselor may be proposed by matching.
func (c *Counselor) Eligible() bool {
	return c.HasAccess() && c.Availability == AvailabilityAvailable
}

// AverageRating is RatingTotal / RatingCount, zero when unrated.
func (c *Counselor) AverageRating() float64 {
	if c.RatingCount == 0 {
		return 0
	}
	return float64(c.RatingTotal) / float64(c.RatingCount)
}
