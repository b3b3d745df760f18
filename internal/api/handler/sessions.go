package handler

import (
	"net/http"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/models"
	"strconv"

	"github.com/gin-gonic/gin"
)

type appealRequest struct {
	Message string `json:"message" binding:"required"`
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

type transferRequest struct {
	ToCounselorID string `json:"to_counselor_id" binding:"required"`
	Reason        string `json:"reason"`
}

func (h *Handler) SetOwnAvailability(c *gin.Context) {
	var req availabilityRequest
	if !h.bindJSON(c, &req) {
		return
	}
	me := subject(c)
	change, err := h.counselors.SetAvailability(c.Request.Context(), me, req.Status, me)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (h *Handler) SubmitAppeal(c *gin.Context) {
	var req appealRequest
	if !h.bindJSON(c, &req) {
		return
	}
	appeal, err := h.complaints.SubmitAppeal(c.Request.Context(), subject(c), req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appeal)
}

// CurrentSession returns the caller's active session, or 204 when idle.
func (h *Handler) CurrentSession(c *gin.Context) {
	sess, err := h.sessions.ActiveSessionFor(c.Request.Context(), subject(c), models.SenderCounselor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sess == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// MessageHistory pages through a session's messages, oldest first. With
// ?limit=N it returns the latest N messages instead.
func (h *Handler) MessageHistory(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.respondError(c, apperrors.Validation("limit must be a positive integer", map[string]any{"limit": raw}))
			return
		}
		msgs, err := h.router.GetMessageHistory(ctx, c.Param("id"), subject(c), models.SenderCounselor, limit)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": msgs})
		return
	}

	page, size := paging(c)
	result, err := h.router.GetMessageHistoryPage(ctx, c.Param("id"), subject(c), models.SenderCounselor, page, size)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SendMessage routes a console message to the session's user.
func (h *Handler) SendMessage(c *gin.Context) {
	var req messageRequest
	if !h.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	delivery, err := h.router.RouteMessage(ctx, c.Param("id"), subject(c), models.SenderCounselor, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.hub.Deliver(ctx, *delivery)
	c.JSON(http.StatusCreated, delivery.Message)
}

// TransferSession hands the session to another counselor and tells them.
func (h *Handler) TransferSession(c *gin.Context) {
	var req transferRequest
	if !h.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.sessions.TransferSession(ctx, c.Param("id"), subject(c), req.ToCounselorID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.hub.Notify(ctx, sess.CurrentCounselorID, models.SenderCounselor, chathub.Event{
		Type:      chathub.EventSessionStart,
		SessionID: sess.ID,
	})
	c.JSON(http.StatusOK, sess)
}

// EndSession lets the current counselor close their session.
func (h *Handler) EndSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sess.CurrentCounselorID != subject(c) {
		h.respondError(c, apperrors.Unauthorized("only the current counselor can end the session", map[string]any{"session_id": sess.ID}))
		return
	}
	if !sess.IsActive {
		c.JSON(http.StatusOK, sess)
		return
	}
	h.endSession(c, sess.ID, nil)
}

// endSession ends the session, runs after for the caller's bookkeeping and
// notifies both parties.
func (h *Handler) endSession(c *gin.Context, sessionID string, after func(*models.Session)) {
	ctx := c.Request.Context()
	ended, err := h.sessions.EndSession(ctx, sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if after != nil {
		after(ended)
	}
	h.hub.SessionEnded(ctx, ended)
	c.JSON(http.StatusOK, ended)
}
