package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"time"

	"gorm.io/gorm"
)

// ReportFilter narrows ListReports.
type ReportFilter struct {
	Processed   *bool
	CounselorID string
	Page        int
	PageSize    int
}

// AppealFilter narrows ListAppeals.
type AppealFilter struct {
	Processed   *bool
	CounselorID string
	Page        int
	PageSize    int
}

func (s *Service) InsertReport(ctx context.Context, r *models.Report) error {
	if err := s.db(ctx).Create(r).Error; err != nil {
		return apperrors.FromStore(err, "report", nil)
	}
	return nil
}

func (s *Service) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	if err := s.db(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, apperrors.FromStore(err, "report", map[string]any{"report_id": id})
	}
	return &r, nil
}

// MarkReportProcessed flips processed exactly once. It reports false when
// another caller already processed the report.
func (s *Service) MarkReportProcessed(ctx context.Context, id, adminID string, action models.ReportAction, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.Report{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at,
			"processed_by": adminID,
			"action":       action,
		})
	if res.Error != nil {
		return false, apperrors.FromStore(res.Error, "report", nil)
	}
	return res.RowsAffected == 1, nil
}

// ListReports pages reports newest first.
func (s *Service) ListReports(ctx context.Context, f ReportFilter) (models.Page[models.Report], error) {
	page, size := normalizePaging(f.Page, f.PageSize, 20)
	q := s.db(ctx).Model(&models.Report{})
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}
	if f.CounselorID != "" {
		q = q.Where("counselor_id = ?", f.CounselorID)
	}
	q = q.Session(&gorm.Session{})
	out := models.Page[models.Report]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "report", nil)
	}
	if err := q.Order("timestamp DESC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "report", nil)
	}
	return out, nil
}

func (s *Service) InsertAppeal(ctx context.Context, a *models.Appeal) error {
	if err := s.db(ctx).Create(a).Error; err != nil {
		return apperrors.FromStore(err, "appeal", nil)
	}
	return nil
}

func (s *Service) GetAppeal(ctx context.Context, id string) (*models.Appeal, error) {
	var a models.Appeal
	if err := s.db(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, apperrors.FromStore(err, "appeal", map[string]any{"appeal_id": id})
	}
	return &a, nil
}

// PendingAppeal returns the counselor's unresolved appeal, or nil.
func (s *Service) PendingAppeal(ctx context.Context, counselorID string) (*models.Appeal, error) {
	var a models.Appeal
	err := s.db(ctx).Where("counselor_id = ? AND processed = ?", counselorID, false).Take(&a).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromStore(err, "appeal", nil)
	}
	return &a, nil
}

// MarkAppealResolved records the outcome once. It reports false when the
// appeal was already resolved.
func (s *Service) MarkAppealResolved(ctx context.Context, id, adminID string, outcome models.AppealOutcome, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.Appeal{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at,
			"processed_by": adminID,
			"outcome":      outcome,
		})
	if res.Error != nil {
		return false, apperrors.FromStore(res.Error, "appeal", nil)
	}
	return res.RowsAffected == 1, nil
}

// ListAppeals pages appeals newest first.
func (s *Service) ListAppeals(ctx context.Context, f AppealFilter) (models.Page[models.Appeal], error) {
	page, size := normalizePaging(f.Page, f.PageSize, 20)
	q := s.db(ctx).Model(&models.Appeal{})
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}
	if f.CounselorID != "" {
		q = q.Where("counselor_id = ?", f.CounselorID)
	}
	q = q.Session(&gorm.Session{})
	out := models.Page[models.Appeal]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "appeal", nil)
	}
	if err := q.Order("timestamp DESC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "appeal", nil)
	}
	return out, nil
}
