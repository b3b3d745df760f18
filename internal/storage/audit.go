package storage

import (
	"context"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"

	"gorm.io/gorm"
)

// AuditFilter narrows ListAuditEntries.
type AuditFilter struct {
	AdminID  string
	Action   models.AuditAction
	TargetID string
	Page     int
	PageSize int
}

func (s *Service) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if err := s.db(ctx).Create(e).Error; err != nil {
		return apperrors.FromStore(err, "audit entry", nil)
	}
	return nil
}

// ListAuditEntries pages the audit log newest first.
func (s *Service) ListAuditEntries(ctx context.Context, f AuditFilter) (models.Page[models.AuditEntry], error) {
	page, size := normalizePaging(f.Page, f.PageSize, 50)
	q := s.db(ctx).Model(&models.AuditEntry{})
	if f.AdminID != "" {
		q = q.Where("admin_id = ?", f.AdminID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.TargetID != "" {
		q = q.Where("target_id = ?", f.TargetID)
	}
	q = q.Session(&gorm.Session{})
	out := models.Page[models.AuditEntry]{Page: page, PageSize: size}
	if err := q.Count(&out.Total).Error; err != nil {
		return out, apperrors.FromStore(err, "audit entry", nil)
	}
	if err := q.Order("timestamp DESC").Order("id ASC").
		Offset(models.Offset(page, size)).Limit(size).Find(&out.Items).Error; err != nil {
		return out, apperrors.FromStore(err, "audit entry", nil)
	}
	return out, nil
}
