package handler

import (
	"net/http"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type availabilityRequest struct {
	Status string `json:"status" binding:"required"`
}

type processReportRequest struct {
	Action string `json:"action" binding:"required"`
}

type resolveAppealRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

func (h *Handler) ListCounselors(c *gin.Context) {
	page, size := paging(c)
	filter := storage.CounselorFilter{
		Approved:  optionalBool(c, "approved"),
		Suspended: optionalBool(c, "suspended"),
		Page:      page,
		PageSize:  size,
	}
	if raw := c.Query("availability"); raw != "" {
		a, err := models.ParseAvailability(raw)
		if err != nil {
			h.respondError(c, apperrors.Validation("invalid availability filter", map[string]any{"availability": raw}))
			return
		}
		filter.Availability = &a
	}

	result, err := h.counselors.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ApproveCounselor(c *gin.Context) {
	counselor, err := h.counselors.ApproveCounselor(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counselor)
}

func (h *Handler) RemoveCounselor(c *gin.Context) {
	terminated, err := h.counselors.RemoveCounselor(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminated_sessions": terminated})
}

func (h *Handler) SetCounselorAvailability(c *gin.Context) {
	var req availabilityRequest
	if !h.bindJSON(c, &req) {
		return
	}
	change, err := h.counselors.SetAvailability(c.Request.Context(), c.Param("id"), req.Status, subject(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (h *Handler) CounselorStatusHistory(c *gin.Context) {
	page, size := paging(c)
	result, err := h.counselors.StatusHistory(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListReports(c *gin.Context) {
	page, size := paging(c)
	result, err := h.complaints.ListReports(c.Request.Context(), storage.ReportFilter{
		Processed:   optionalBool(c, "processed"),
		CounselorID: c.Query("counselor_id"),
		Page:        page,
		PageSize:    size,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ProcessReport(c *gin.Context) {
	var req processReportRequest
	if !h.bindJSON(c, &req) {
		return
	}
	report, err := h.complaints.ProcessReport(c.Request.Context(), c.Param("id"), subject(c), req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ListAppeals(c *gin.Context) {
	page, size := paging(c)
	result, err := h.complaints.ListAppeals(c.Request.Context(), storage.AppealFilter{
		Processed:   optionalBool(c, "processed"),
		CounselorID: c.Query("counselor_id"),
		Page:        page,
		PageSize:    size,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ResolveAppeal(c *gin.Context) {
	var req resolveAppealRequest
	if !h.bindJSON(c, &req) {
		return
	}
	appeal, err := h.complaints.ResolveAppeal(c.Request.Context(), c.Param("id"), subject(c), req.Outcome)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, appeal)
}

func (h *Handler) ListAudit(c *gin.Context) {
	page, size := paging(c)
	result, err := h.audit.List(c.Request.Context(), storage.AuditFilter{
		AdminID:  c.Query("admin_id"),
		Action:   models.AuditAction(c.Query("action")),
		TargetID: c.Query("target_id"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AdminEndSession force-ends any session and records who did it.
func (h *Handler) AdminEndSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !sess.IsActive {
		c.JSON(http.StatusOK, sess)
		return
	}
	h.endSession(c, sess.ID, func(ended *models.Session) {
		h.audit.Record(ctx, subject(c), models.AuditEndSession, ended.ID, "")
	})
}
