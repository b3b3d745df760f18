// Package complaint turns user reports against counselors into strikes and
// escalates strikes into suspension and revocation. Suspended counselors
// appeal through the same engine.
package complaint

import (
	"context"
	"fmt"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EngineDependencies groups the collaborators of an Engine.
type EngineDependencies struct {
	Store      *storage.Service
	Audit      *audit.Recorder
	Moderation config.ModerationConfig
	Logger     *zap.Logger
}

// Engine handles the business logic for reports and appeals.
type Engine struct {
	store      *storage.Service
	audit      *audit.Recorder
	thresholds config.ModerationConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine fails when the thresholds break revoke >= suspend >= 1.
func NewEngine(deps EngineDependencies) (*Engine, error) {
	if err := deps.Moderation.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:      deps.Store,
		audit:      deps.Audit,
		thresholds: deps.Moderation,
		logger:     logging.OrNop(deps.Logger),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (e *Engine) Thresholds() config.ModerationConfig {
	return e.thresholds
}

// SubmitReport files a complaint against the counselor originally assigned
// to the session.
func (e *Engine) SubmitReport(ctx context.Context, sessionID, counselorID, reason string) (*models.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("report reason is required", nil)
	}
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetCounselorByID(ctx, counselorID); err != nil {
		return nil, err
	}
	if sess.CounselorID != counselorID {
		return nil, apperrors.Unauthorized("counselor was not assigned to this session", nil)
	}

	report := &models.Report{
		SessionID:   sessionID,
		CounselorID: counselorID,
		Reason:      reason,
		Timestamp:   e.now(),
	}
	if err := e.store.InsertReport(ctx, report); err != nil {
		return nil, err
	}
	e.logger.Info("report submitted",
		zap.String("report_id", report.ID),
		zap.String("session_id", sessionID),
		zap.String("counselor_id", counselorID),
	)
	return report, nil
}

// ProcessReport settles a report. Processing an already processed report
// returns it unchanged, so a strike is never applied twice.
func (e *Engine) ProcessReport(ctx context.Context, reportID, adminID, action string) (*models.Report, error) {
	act, err := models.ParseReportAction(action)
	if err != nil {
		return nil, apperrors.Validation("invalid report action", map[string]any{"action": action})
	}

	var (
		out       *models.Report
		counselor *models.Counselor
		applied   bool
	)
	err = e.store.Transaction(ctx, func(tx *storage.Service) error {
		report, err := tx.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		if report.Processed {
			out = report
			return nil
		}
		applied, err = tx.MarkReportProcessed(ctx, report.ID, adminID, act, e.now())
		if err != nil {
			return err
		}
		if applied && act == models.ReportActionStrike {
			counselor, err = tx.AddStrike(ctx, report.CounselorID,
				e.thresholds.SuspendThreshold, e.thresholds.RevokeThreshold, adminID)
			if err != nil {
				return err
			}
		}
		out, err = tx.GetReport(ctx, report.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return out, nil
	}

	fields := []zap.Field{
		zap.String("report_id", out.ID),
		zap.String("counselor_id", out.CounselorID),
		zap.String("action", string(act)),
	}
	if counselor != nil {
		fields = append(fields,
			zap.Int("strikes", counselor.Strikes),
			zap.Bool("suspended", counselor.IsSuspended),
			zap.Bool("approved", counselor.IsApproved),
		)
	}
	e.logger.Info("report processed", fields...)
	if e.audit != nil {
		e.audit.Record(ctx, adminID, models.AuditProcessReport, out.ID, fmt.Sprintf("action=%s counselor=%s", act, out.CounselorID))
	}
	return out, nil
}

// SubmitAppeal lets a suspended counselor contest the suspension. Only one
// unresolved appeal may exist per counselor.
func (e *Engine) SubmitAppeal(ctx context.Context, counselorID, message string) (*models.Appeal, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.Validation("appeal message is required", nil)
	}

	var appeal *models.Appeal
	err := e.store.Transaction(ctx, func(tx *storage.Service) error {
		c, err := tx.GetCounselorByID(ctx, counselorID)
		if err != nil {
			return err
		}
		if !c.IsSuspended {
			return apperrors.Conflict("only suspended counselors can appeal", nil)
		}
		pending, err := tx.PendingAppeal(ctx, counselorID)
		if err != nil {
			return err
		}
		if pending != nil {
			return apperrors.Conflict("an appeal is already pending", map[string]any{"appeal_id": pending.ID})
		}
		appeal = &models.Appeal{
			CounselorID:     counselorID,
			Message:         message,
			StrikesAtFiling: c.Strikes,
			Timestamp:       e.now(),
		}
		return tx.InsertAppeal(ctx, appeal)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("appeal submitted", zap.String("appeal_id", appeal.ID), zap.String("counselor_id", counselorID))
	return appeal, nil
}

// ResolveAppeal applies the outcome once: approve restores full access and
// clears strikes, revoke_suspension only lifts the suspension.
func (e *Engine) ResolveAppeal(ctx context.Context, appealID, adminID, outcome string) (*models.Appeal, error) {
	out, err := models.ParseAppealOutcome(outcome)
	if err != nil {
		return nil, apperrors.Validation("invalid appeal outcome", map[string]any{"outcome": outcome})
	}

	var resolved *models.Appeal
	err = e.store.Transaction(ctx, func(tx *storage.Service) error {
		appeal, err := tx.GetAppeal(ctx, appealID)
		if err != nil {
			return err
		}
		if appeal.Processed {
			return apperrors.Conflict("appeal already resolved", map[string]any{"appeal_id": appealID})
		}
		ok, err := tx.MarkAppealResolved(ctx, appeal.ID, adminID, out, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("appeal already resolved", map[string]any{"appeal_id": appealID})
		}

		c, err := tx.GetCounselorByID(ctx, appeal.CounselorID)
		if err != nil {
			return err
		}
		update := storage.AccessUpdate{Approved: c.IsApproved, Suspended: false, ChangedBy: adminID}
		if out == models.AppealApprove {
			update.Approved = true
			update.ResetStrikes = true
		}
		if _, err := tx.UpdateAccess(ctx, c.ID, update); err != nil {
			return err
		}
		resolved, err = tx.GetAppeal(ctx, appeal.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("appeal resolved",
		zap.String("appeal_id", resolved.ID),
		zap.String("counselor_id", resolved.CounselorID),
		zap.String("outcome", string(out)),
	)
	if e.audit != nil {
		e.audit.Record(ctx, adminID, models.AuditResolveAppeal, resolved.ID, fmt.Sprintf("outcome=%s counselor=%s", out, resolved.CounselorID))
	}
	return resolved, nil
}

func (e *Engine) ListReports(ctx context.Context, filter storage.ReportFilter) (models.Page[models.Report], error) {
	return e.store.ListReports(ctx, filter)
}

func (e *Engine) ListAppeals(ctx context.Context, filter storage.AppealFilter) (models.Page[models.Appeal], error) {
	return e.store.ListAppeals(ctx, filter)
}
