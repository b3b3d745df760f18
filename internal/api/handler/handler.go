// Package handler exposes the broker over HTTP: the admin moderation API,
// the counselor console API and the live WebSocket feed.
package handler

import (
	"context"
	"net/http"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies groups the services the HTTP layer calls into.
type Dependencies struct {
	Store      *storage.Service
	Sessions   *session.Broker
	Counselors *counselor.Registry
	Complaints *complaint.Engine
	Audit      *audit.Recorder
	Router     *chathub.Router
	Hub        *chathub.Manager
	Tokens     *TokenManager
	Logger     *zap.Logger
}

// Handler holds the collaborators of every route.
type Handler struct {
	store      *storage.Service
	sessions   *session.Broker
	counselors *counselor.Registry
	complaints *complaint.Engine
	audit      *audit.Recorder
	router     *chathub.Router
	hub        *chathub.Manager
	tokens     *TokenManager
	logger     *zap.Logger
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		store:      deps.Store,
		sessions:   deps.Sessions,
		counselors: deps.Counselors,
		complaints: deps.Complaints,
		audit:      deps.Audit,
		router:     deps.Router,
		hub:        deps.Hub,
		tokens:     deps.Tokens,
		logger:     logging.OrNop(deps.Logger),
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r)
	return r
}

// Register attaches the routes to r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/ws", h.RequireRole(RoleCounselor), h.ServeWebSocket)

	admin := r.Group("/api/admin", h.RequireRole(RoleAdmin))
	admin.GET("/counselors", h.ListCounselors)
	admin.POST("/counselors/:id/approve", h.ApproveCounselor)
	admin.DELETE("/counselors/:id", h.RemoveCounselor)
	admin.PUT("/counselors/:id/availability", h.SetCounselorAvailability)
	admin.GET("/counselors/:id/status-history", h.CounselorStatusHistory)
	admin.GET("/reports", h.ListReports)
	admin.POST("/reports/:id/process", h.ProcessReport)
	admin.GET("/appeals", h.ListAppeals)
	admin.POST("/appeals/:id/resolve", h.ResolveAppeal)
	admin.GET("/audit", h.ListAudit)
	admin.POST("/sessions/:id/end", h.AdminEndSession)

	api := r.Group("/api", h.RequireRole(RoleCounselor))
	api.PUT("/counselor/availability", h.SetOwnAvailability)
	api.POST("/counselor/appeals", h.SubmitAppeal)
	api.GET("/counselor/session", h.CurrentSession)
	api.GET("/sessions/:id/messages", h.MessageHistory)
	api.POST("/sessions/:id/messages", h.SendMessage)
	api.POST("/sessions/:id/transfer", h.TransferSession)
	api.POST("/sessions/:id/end", h.EndSession)
}

// Health pings the database and Redis.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{}
	ready := true
	for name, err := range h.store.Ping(ctx) {
		if err != nil {
			deps[name] = err.Error()
			ready = false
			continue
		}
		deps[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": deps,
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": deps})
}

// respondError renders err as {"error": {...}}. Internal causes are logged
// and replaced by a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	status := apperrors.HTTPStatus(appErr.Kind)
	body := gin.H{
		"code":    appErr.Kind,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": body})
}

// bindJSON decodes the body into req, rendering a validation error on
// failure.
func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return false
	}
	return true
}

func paging(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return page, size
}

// optionalBool parses a query flag; absent or malformed values are nil.
func optionalBool(c *gin.Context, key string) *bool {
	raw, ok := c.GetQuery(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
