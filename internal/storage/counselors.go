package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounselorFilter narrows ListCounselors. Nil fields are ignored.
type CounselorFilter struct {
	Availability *models.Availability
	Approved     *bool
	Suspended    *bool
	Page         int
	PageSize     int
}

// RegisterCounselor creates a pending counselor for handle. The second return
// value is false when the handle was already registered.
func (s *Service) RegisterCounselor(ctx context.Context, handle string) (*models.Counselor, bool, error) {
	if handle == "" {
		return nil, false, apperrors.Validation("chat handle is required", nil)
	}
	now := time.Now().UTC()
	c := models.Counselor{
		ExternalChatHandle: handle,
		Availability:       models.AvailabilityAway,
		LastActiveAt:       now,
	}
	res := s.db(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_chat_handle"}}, DoNothing: true}).
		Create(&c)
	if res.Error != nil {
		return nil, false, apperrors.FromStore(res.Error, "counselor", nil)
	}
	created := res.RowsAffected == 1
	stored, err := s.GetCounselorByChatHandle(ctx, handle)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// CreateCounselor inserts c as given. Used by seeding and tests.
func (s *Service) CreateCounselor(ctx context.Context, c *models.Counselor) error {
	if c.LastActiveAt.IsZero() {
		c.LastActiveAt = time.Now().UTC()
	}
	if err := s.db(ctx).Create(c).Error; err != nil {
		return apperrors.FromStore(err, "counselor", nil)
	}
	return nil
}

func (s *Service) GetCounselorByID(ctx context.Context, id string) (*models.Counselor, error) {
	var c models.Counselor
	if err := s.db(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, apperrors.FromStore(err, "counselor", map[string]any{"counselor_id": id})
	}
	return &c, nil
}

func (s *Service) GetCounselorByChatHandle(ctx context.Context, handle string) (*models.Counselor, error) {
	var c models.Counselor
	if err := s.db(ctx).First(&c, "external_chat_handle = ?", handle).Error; err != nil {
		return nil, apperrors.FromStore(err, "counselor", nil)
	}
	return &c, nil
}

// FindAvailableCounselor returns the eligible counselor idle the longest, or
// nil when none exists. Ids in exclude are skipped.
func (s *Service) FindAvailableCounselor(ctx context.Context, exclude []string) (*models.Counselor, error) {
	q := s.db(ctx).
		Where("availability = ? AND is_approved = ? AND is_suspended = ?", models.AvailabilityAvailable, true, false)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var c models.Counselor
	err := q.Order("last_active_at ASC").Order("id ASC").Take(&c).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromStore(err, "counselor", nil)
	}
	return &c, nil
}

// ChangeAvailability moves a counselor to status and appends the change to
// the availability trail. A no-op change is still recorded.
func (s *Service) ChangeAvailability(ctx context.Context, counselorID string, status models.Availability, changedBy string) (*models.AvailabilityChange, error) {
	var change *models.AvailabilityChange
	err := s.Transaction(ctx, func(tx *Service) error {
		c, err := tx.GetCounselorByID(ctx, counselorID)
		if err != nil {
			return err
		}
		change, err = tx.setAvailability(ctx, c, status, changedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// setAvailability must run inside a transaction.
func (s *Service) setAvailability(ctx context.Context, c *models.Counselor, status models.Availability, changedBy string) (*models.AvailabilityChange, error) {
	now := time.Now().UTC()
	if err := s.db(ctx).Model(&models.Counselor{}).Where("id = ?", c.ID).
		Updates(map[string]any{"availability": status, "last_active_at": now}).Error; err != nil {
		return nil, apperrors.FromStore(err, "counselor", nil)
	}
	change := &models.AvailabilityChange{
		CounselorID:    c.ID,
		PreviousStatus: c.Availability,
		NewStatus:      status,
		ChangedBy:      changedBy,
		Timestamp:      now,
	}
	if err := s.db(ctx).Create(change).Error; err != nil {
		return nil, apperrors.FromStore(err, "availability change", nil)
	}
	c.Availability = status
	c.LastActiveAt = now
	return change, nil
}

// AccessUpdate describes an approval/suspension change. A nil Availability
// leaves the status untouched.
type AccessUpdate struct {
	Approved     bool
	Suspended    bool
	ResetStrikes bool
	Availability *models.Availability
	ChangedBy    string
}

// UpdateAccess applies u to the counselor in one transaction and returns the
// stored record.
func (s *Service) UpdateAccess(ctx context.Context, counselorID string, u AccessUpdate) (*models.Counselor, error) {
	var out *models.Counselor
	err := s.Transaction(ctx, func(tx *Service) error {
		c, err := tx.GetCounselorByID(ctx, counselorID)
		if err != nil {
			return err
		}
		fields := map[string]any{"is_approved": u.Approved, "is_suspended": u.Suspended}
		if u.ResetStrikes {
			fields["strikes"] = 0
		}
		if err := tx.db(ctx).Model(&models.Counselor{}).Where("id = ?", c.ID).Updates(fields).Error; err != nil {
			return apperrors.FromStore(err, "counselor", nil)
		}
		if u.Availability != nil && *u.Availability != c.Availability {
			if _, err := tx.setAvailability(ctx, c, *u.Availability, u.ChangedBy); err != nil {
				return err
			}
		}
		out, err = tx.GetCounselorByID(ctx, counselorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddStrike increments a counselor's strikes and applies the escalation
// thresholds in the same transaction. Must run inside a transaction.
func (s *Service) AddStrike(ctx context.Context, counselorID string, suspendAt, revokeAt int, changedBy string) (*models.Counselor, error) {
	res := s.db(ctx).Model(&models.Counselor{}).Where("id = ?", counselorID).
		Update("strikes", gorm.Expr("strikes + 1"))
	if res.Error != nil {
		return nil, apperrors.FromStore(res.Error, "counselor", nil)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("counselor", map[string]any{"counselor_id": counselorID})
	}
	c, err := s.GetCounselorByID(ctx, counselorID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	switch {
	case c.Strikes >= revokeAt:
		fields["is_approved"] = false
		fields["is_suspended"] = true
	case c.Strikes >= suspendAt:
		fields["is_suspended"] = true
	}
	if len(fields) == 0 {
		return c, nil
	}
	if err := s.db(ctx).Model(&models.Counselor{}).Where("id = ?", c.ID).Updates(fields).Error; err != nil {
		return nil, apperrors.FromStore(err, "counselor", nil)
	}
	if c.Availability != models.AvailabilityAway {
		if _, err := s.setAvailability(ctx, c, models.AvailabilityAway, changedBy); err != nil {
			return nil, err
		}
	}
	return s.GetCounselorByID(ctx, counselorID)
}

// CountSession bumps sessions_handled and, when freeTo is set, moves the
// counselor back to that availability. Must run inside a transaction.
func (s *Service) CountSession(ctx context.Context, counselorID string, freeTo *models.Availability) error {
	res := s.db(ctx).Model(&models.Counselor{}).Where("id = ?", counselorID).
		Update("sessions_handled", gorm.Expr("sessions_handled + 1"))
	if res.Error != nil {
		return apperrors.FromStore(res.Error, "counselor", nil)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("counselor", map[string]any{"counselor_id": counselorID})
	}
	if freeTo == nil {
		return nil
	}
	c, err := s.GetCounselorByID(ctx, counselorID)
	if err != nil {
		return err
	}
	if c.Availability == *freeTo {
		return nil
	}
	_, err = s.setAvailability(ctx, c, *freeTo, "system")
	return err
}

// AddRating folds score into the counselor's running totals atomically.
func (s *Service) AddRating(ctx context.Context, counselorID string, score int) error {
	res := s.db(ctx).Model(&models.Counselor{}).Where("id = ?", counselorID).
		Updates(map[string]any{
			"rating_count": gorm.Expr("rating_count + 1"),
			"rating_total": gorm.Expr("rating_total + ?", score),
		})
	if res.Error != nil {
		return apperrors.FromStore(res.Error, "counselor", nil)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("counselor", map[string]any{"counselor_id": counselorID})
	}
	return nil
}

// MarkBusy reserves a counselor that still has access. The guard is part of
// the UPDATE so a concurrent revocation wins. Must run inside a transaction.
func (s *Service) MarkBusy(ctx context.Context, c *models.Counselor) error {
	now := time.Now().UTC()
	res := s.db(ctx).Model(&models.Counselor{}).
		Where("id = ? AND is_approved = ? AND is_suspended = ?", c.ID, true, false).
		Updates(map[string]any{"availability": models.AvailabilityBusy, "last_active_at": now})
	if res.Error != nil {
		return apperrors.FromStore(res.Error, "counselor", nil)
	}
	if res.RowsAffected == 0 {
		return apperrors.Unavailable("counselor cannot take sessions", map[string]any{"counselor_id": c.ID})
	}
	if c.Availability != models.AvailabilityBusy {
		change := &models.AvailabilityChange{
			CounselorID:    c.ID,
			PreviousStatus: c.Availability,
			NewStatus:      models.AvailabilityBusy,
			ChangedBy:      "system",
			Timestamp:      now,
		}
		if err := s.db(ctx).Create(change).Error; err != nil {
			return apperrors.FromStore(err, "availability change", nil)
		}
	}
	c.Availability = models.AvailabilityBusy
	c.LastActiveAt = now
	return nil
}

// ListCounselors pages counselors, most recently active first.
func (s *Service) ListCounselors(ctx context.Context, f CounselorFilter) (models.Page[models.Counselor], error) {
	page, size := normalizePaging(f.Page, f.PageSize, 20)
	q := s.db(ctx).Model(&models.Counselor{})
	if f.Availability != nil {
		q = q.Where("availability = ?", *f.Availability)
	}
	if f.Approved != nil {
		q = q.Where("is_approved = ?", *f.Approved)
	}
	if f.Suspended != nil {
		q = q.Where("is_suspended = ?", *f.Suspended)
	}

	q = q.Session(&gorm.Session{})
	out := models.Page[models.Counselor]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "counselor", nil)
	}
	if err := q.Order("last_active_at DESC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "counselor", nil)
	}
	return out, nil
}

// ListAvailabilityChanges pages the availability trail, newest first.
func (s *Service) ListAvailabilityChanges(ctx context.Context, counselorID string, page, pageSize int) (models.Page[models.AvailabilityChange], error) {
	page, size := normalizePaging(page, pageSize, 50)
	q := s.db(ctx).Model(&models.AvailabilityChange{}).Where("counselor_id = ?", counselorID)
	q = q.Session(&gorm.Session{})
	out := models.Page[models.AvailabilityChange]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "availability change", nil)
	}
	if err := q.Order("timestamp DESC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "availability change", nil)
	}
	return out, nil
}
