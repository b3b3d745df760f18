package config

import (
	"fmt"
	"time"
)

const (
	// Strike escalation
	DefaultSuspendThreshold = 3
	DefaultRevokeThreshold  = 5

	// Matching
	DefaultMaxMatchAttempts  = 3
	DefaultMatchPollInterval = 500 * time.Millisecond

	// Retention
	DefaultSessionRetentionDays = 30
	DefaultRetentionSchedule    = "@daily"

	// Rating bounds
	MinRatingScore = 1
	MaxRatingScore = 5
)

// ModerationConfig holds the strike thresholds of a deployment.
type ModerationConfig struct {
	SuspendThreshold int
	RevokeThreshold  int
}

// Validate enforces revoke >= suspend >= 1.
func (c ModerationConfig) Validate() error {
	if c.SuspendThreshold < 1 {
		return fmt.Errorf("suspend threshold must be >= 1, got %d", c.SuspendThreshold)
	}
	if c.RevokeThreshold < c.SuspendThreshold {
		return fmt.Errorf("revoke threshold (%d) must be >= suspend threshold (%d)", c.RevokeThreshold, c.SuspendThreshold)
	}
	return nil
}

// MatchConfig controls the counselor matching loop.
type MatchConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// RetentionConfig is consumed by the retention sweeper only.
type RetentionConfig struct {
	SessionRetentionDays int
	Schedule             string
}

// Cutoff returns the instant before which ended sessions are expired.
func (c RetentionConfig) Cutoff(now time.Time) time.Time {
	days := c.SessionRetentionDays
	if days <= 0 {
		days = DefaultSessionRetentionDays
	}
	return now.AddDate(0, 0, -days)
}
