// Package counselor owns counselor availability, approval and the lookup of
// an eligible counselor for matching.
package counselor

import (
	"context"
	"fmt"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"

	"go.uber.org/zap"
)

// RegistryDependencies groups the collaborators of a Registry.
type RegistryDependencies struct {
	Store    *storage.Service
	Sessions *session.Broker
	Audit    *audit.Recorder
	Logger   *zap.Logger
}

type Registry struct {
	store    *storage.Service
	sessions *session.Broker
	audit    *audit.Recorder
	logger   *zap.Logger
}

func NewRegistry(deps RegistryDependencies) *Registry {
	return &Registry{
		store:    deps.Store,
		sessions: deps.Sessions,
		audit:    deps.Audit,
		logger:   logging.OrNop(deps.Logger),
	}
}

// Register creates a pending counselor for a chat handle. Registering the
// same handle twice returns the existing record.
func (r *Registry) Register(ctx context.Context, chatHandle string) (*models.Counselor, error) {
	c, created, err := r.store.RegisterCounselor(ctx, chatHandle)
	if err != nil {
		return nil, err
	}
	if created {
		r.logger.Info("counselor registered", zap.String("counselor_id", c.ID))
	}
	return c, nil
}

// SetAvailability changes a counselor's status. changedBy defaults to the
// counselor for self-service changes.
func (r *Registry) SetAvailability(ctx context.Context, counselorID, status, changedBy string) (*models.AvailabilityChange, error) {
	availability, err := models.ParseAvailability(status)
	if err != nil {
		return nil, apperrors.Validation("invalid availability status", map[string]any{"status": status})
	}
	if changedBy == "" {
		changedBy = counselorID
	}
	change, err := r.store.ChangeAvailability(ctx, counselorID, availability, changedBy)
	if err != nil {
		return nil, err
	}
	r.logger.Info("counselor availability changed",
		zap.String("counselor_id", counselorID),
		zap.String("from", string(change.PreviousStatus)),
		zap.String("to", string(change.NewStatus)),
		zap.String("changed_by", changedBy),
	)
	if changedBy != counselorID && changedBy != "system" && r.audit != nil {
		r.audit.Record(ctx, changedBy, models.AuditSetAvailability, counselorID,
			fmt.Sprintf("%s -> %s", change.PreviousStatus, change.NewStatus))
	}
	return change, nil
}

// GetAvailableCounselor returns the id of an eligible counselor, or "" when
// nobody is eligible. Ids in exclude are never returned.
func (r *Registry) GetAvailableCounselor(ctx context.Context, exclude ...string) (string, error) {
	c, err := r.store.FindAvailableCounselor(ctx, exclude)
	if err != nil || c == nil {
		return "", err
	}
	return c.ID, nil
}

// ApproveCounselor grants access and lifts any suspension.
func (r *Registry) ApproveCounselor(ctx context.Context, adminID, counselorID string) (*models.Counselor, error) {
	c, err := r.store.UpdateAccess(ctx, counselorID, storage.AccessUpdate{
		Approved:  true,
		Suspended: false,
		ChangedBy: adminID,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("counselor approved", zap.String("counselor_id", counselorID), zap.String("admin_id", adminID))
	if r.audit != nil {
		r.audit.Record(ctx, adminID, models.AuditApproveCounselor, counselorID, "")
	}
	return c, nil
}

// RemoveCounselor revokes access and then ends every active session the
// counselor holds or held. It returns the number of sessions ended.
func (r *Registry) RemoveCounselor(ctx context.Context, adminID, counselorID string) (int, error) {
	// Access goes first so no new session can book the counselor while the
	// existing ones are being closed.
	away := models.AvailabilityAway
	if _, err := r.store.UpdateAccess(ctx, counselorID, storage.AccessUpdate{
		Approved:     false,
		Suspended:    true,
		Availability: &away,
		ChangedBy:    adminID,
	}); err != nil {
		return 0, err
	}

	terminated, err := r.sessions.TerminateAllForCounselor(ctx, counselorID)
	if err != nil {
		return terminated, err
	}

	r.logger.Info("counselor removed",
		zap.String("counselor_id", counselorID),
		zap.String("admin_id", adminID),
		zap.Int("sessions_terminated", terminated),
	)
	if r.audit != nil {
		if terminated > 0 {
			r.audit.Record(ctx, adminID, models.AuditTerminateSessions, counselorID,
				fmt.Sprintf("count=%d", terminated))
		}
		r.audit.Record(ctx, adminID, models.AuditRemoveCounselor, counselorID,
			fmt.Sprintf("terminated_sessions=%d", terminated))
	}
	return terminated, nil
}

// HasAccess reports isApproved and not suspended.
func (r *Registry) HasAccess(ctx context.Context, counselorID string) (bool, error) {
	c, err := r.store.GetCounselorByID(ctx, counselorID)
	if err != nil {
		return false, err
	}
	return c.HasAccess(), nil
}

func (r *Registry) Get(ctx context.Context, counselorID string) (*models.Counselor, error) {
	return r.store.GetCounselorByID(ctx, counselorID)
}

func (r *Registry) List(ctx context.Context, filter storage.CounselorFilter) (models.Page[models.Counselor], error) {
	return r.store.ListCounselors(ctx, filter)
}

// StatusHistory pages the availability trail of a counselor, newest first.
func (r *Registry) StatusHistory(ctx context.Context, counselorID string, page, pageSize int) (models.Page[models.AvailabilityChange], error) {
	if _, err := r.store.GetCounselorByID(ctx, counselorID); err != nil {
		return models.Page[models.AvailabilityChange]{}, err
	}
	return r.store.ListAvailabilityChanges(ctx, counselorID, page, pageSize)
}
