// Package audit appends and lists the immutable log of administrative
// actions.
package audit

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"
	"time"

	"go.uber.org/zap"
)

type Recorder struct {
	store  *storage.Service
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store *storage.Service, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordAdminAction appends an entry. Empty targetID and details are stored
// as absent.
func (r *Recorder) RecordAdminAction(ctx context.Context, adminID string, action models.AuditAction, targetID, details string) (*models.AuditEntry, error) {
	if action == "" {
		return nil, apperrors.Validation("audit action is required", nil)
	}
	entry := &models.AuditEntry{
		AdminID:   adminID,
		Action:    action,
		Timestamp: r.now(),
	}
	if targetID != "" {
		entry.TargetID = &targetID
	}
	if details != "" {
		entry.Details = &details
	}
	if err := r.store.InsertAuditEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Record is RecordAdminAction for callers that already committed the action
// itself: a failed append is logged, not returned.
func (r *Recorder) Record(ctx context.Context, adminID string, action models.AuditAction, targetID, details string) {
	if _, err := r.RecordAdminAction(ctx, adminID, action, targetID, details); err != nil {
		r.logger.Error("failed to record admin action",
			zap.String("admin_id", adminID),
			zap.String("action", string(action)),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}

// List pages entries newest first.
func (r *Recorder) List(ctx context.Context, filter storage.AuditFilter) (models.Page[models.AuditEntry], error) {
	return r.store.ListAuditEntries(ctx, filter)
}
