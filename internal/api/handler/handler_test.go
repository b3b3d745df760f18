package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sanctuary/backend/internal/api/handler"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"sanctuary/backend/internal/storage/storagetest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminID = "admin-1"

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, chatHandle, text string) error {
	return m.Called(ctx, chatHandle, text).Error(0)
}

type apiEnv struct {
	engine   *gin.Engine
	tokens   *handler.TokenManager
	store    *storage.Service
	sessions *session.Broker
	reports  *complaint.Engine
	notifier *MockNotifier
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storagetest.NewService(t)
	recorder := audit.NewRecorder(store, nil)
	sessions := session.NewBroker(store, nil)
	registry := counselor.NewRegistry(counselor.RegistryDependencies{Store: store, Sessions: sessions, Audit: recorder})
	engine, err := complaint.NewEngine(complaint.EngineDependencies{
		Store:      store,
		Audit:      recorder,
		Moderation: config.ModerationConfig{SuspendThreshold: 3, RevokeThreshold: 5},
	})
	require.NoError(t, err)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	hub := chathub.NewManager(chathub.ManagerDependencies{Store: store, Notifier: notifier})
	tokens := handler.NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour})

	h := handler.NewHandler(handler.Dependencies{
		Store:      store,
		Sessions:   sessions,
		Counselors: registry,
		Complaints: engine,
		Audit:      recorder,
		Router:     chathub.NewRouter(sessions, store, nil),
		Hub:        hub,
		Tokens:     tokens,
	})
	return &apiEnv{
		engine:   handler.NewRouter(h),
		tokens:   tokens,
		store:    store,
		sessions: sessions,
		reports:  engine,
		notifier: notifier,
	}
}

func (e *apiEnv) token(t *testing.T, subjectID, role string) string {
	t.Helper()
	tok, _, err := e.tokens.GenerateToken(subjectID, role)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) counselor(t *testing.T, handle string, approved bool) *models.Counselor {
	t.Helper()
	c := &models.Counselor{ExternalChatHandle: handle, IsApproved: approved, Availability: models.AvailabilityAvailable}
	require.NoError(t, e.store.CreateCounselor(context.Background(), c))
	return c
}

func (e *apiEnv) activeSession(t *testing.T, c *models.Counselor) *models.Session {
	t.Helper()
	ctx := context.Background()
	u, err := e.store.SaveUserIfNotExists(ctx, "user-"+c.ExternalChatHandle)
	require.NoError(t, err)
	sess, err := e.sessions.CreateSession(ctx, u.ID, c.ID, true)
	require.NoError(t, err)
	return sess
}

type errorBody struct {
	Error struct {
		Code    apperrors.Kind `json:"code"`
		Message string         `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuth_RejectsMissingAndWrongRole(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/api/admin/reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/admin/reports", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/admin/reports", e.token(t, "c1", handler.RoleCounselor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/api/admin/reports", e.token(t, adminID, handler.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenManager(t *testing.T) {
	tm := handler.NewTokenManager(config.AuthConfig{JWTSecret: "s1", TokenTTL: time.Minute})
	tok, exp, err := tm.GenerateToken("c1", handler.RoleCounselor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := tm.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.Subject)
	assert.Equal(t, handler.RoleCounselor, claims.Role)

	other := handler.NewTokenManager(config.AuthConfig{JWTSecret: "s2"})
	_, err = other.ParseToken(tok)
	assert.Error(t, err, "signature from another secret")

	_, _, err = tm.GenerateToken("c1", "root")
	assert.Error(t, err)
	_, _, err = tm.GenerateToken("", handler.RoleAdmin)
	assert.Error(t, err)
}

func TestAdmin_ApproveAndAudit(t *testing.T) {
	e := newAPIEnv(t)
	admin := e.token(t, adminID, handler.RoleAdmin)
	c, _, err := e.store.RegisterCounselor(context.Background(), "tg-1")
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/admin/counselors/"+c.ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Counselor](t, w)
	assert.True(t, got.IsApproved)
	assert.NotContains(t, w.Body.String(), "tg-1", "chat handles never leave the broker")

	w = e.do(t, http.MethodGet, "/api/admin/audit?action=approve_counselor", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.Page[models.AuditEntry]](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, adminID, page.Items[0].AdminID)

	w = e.do(t, http.MethodPost, "/api/admin/counselors/missing/approve", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.KindNotFound, decode[errorBody](t, w).Error.Code)
}

func TestAdmin_ListCounselorsFilter(t *testing.T) {
	e := newAPIEnv(t)
	admin := e.token(t, adminID, handler.RoleAdmin)
	e.counselor(t, "a", true)
	e.counselor(t, "b", false)

	w := e.do(t, http.MethodGet, "/api/admin/counselors?approved=true", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.Page[models.Counselor]](t, w)
	assert.Len(t, page.Items, 1)

	w = e.do(t, http.MethodGet, "/api/admin/counselors?availability=sleeping", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RemoveCounselorTerminatesSessions(t *testing.T) {
	e := newAPIEnv(t)
	admin := e.token(t, adminID, handler.RoleAdmin)
	c := e.counselor(t, "c", true)
	sess := e.activeSession(t, c)

	w := e.do(t, http.MethodDelete, "/api/admin/counselors/"+c.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"terminated_sessions":1}`, w.Body.String())

	got, err := e.sessions.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestAdmin_ProcessReport(t *testing.T) {
	e := newAPIEnv(t)
	admin := e.token(t, adminID, handler.RoleAdmin)
	c := e.counselor(t, "c", true)
	sess := e.activeSession(t, c)
	report, err := e.reports.SubmitReport(context.Background(), sess.ID, c.ID, "dismissive")
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/admin/reports/"+report.ID+"/process", admin, gin.H{"action": "ban"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/admin/reports/"+report.ID+"/process", admin, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "action is required")

	w = e.do(t, http.MethodPost, "/api/admin/reports/"+report.ID+"/process", admin, gin.H{"action": "strike"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Report](t, w).Processed)

	updated, err := e.store.GetCounselorByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Strikes)

	w = e.do(t, http.MethodGet, "/api/admin/reports?processed=false", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.Page[models.Report]](t, w).Items)
}

func TestAdmin_EndSessionNotifiesBothParties(t *testing.T) {
	e := newAPIEnv(t)
	admin := e.token(t, adminID, handler.RoleAdmin)
	c := e.counselor(t, "c", true)
	sess := e.activeSession(t, c)

	w := e.do(t, http.MethodPost, "/api/admin/sessions/"+sess.ID+"/end", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Session](t, w).IsActive)

	e.notifier.AssertCalled(t, "Send", mock.Anything, "user-c", mock.Anything)
	e.notifier.AssertCalled(t, "Send", mock.Anything, "c", mock.Anything)

	// Ending again is a no-op without new notifications.
	calls := len(e.notifier.Calls)
	w = e.do(t, http.MethodPost, "/api/admin/sessions/"+sess.ID+"/end", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, e.notifier.Calls, calls)
}

func TestCounselor_SendMessage(t *testing.T) {
	e := newAPIEnv(t)
	c := e.counselor(t, "c", true)
	other := e.counselor(t, "o", true)
	sess := e.activeSession(t, c)
	path := "/api/sessions/" + sess.ID + "/messages"

	w := e.do(t, http.MethodPost, path, e.token(t, c.ID, handler.RoleCounselor), gin.H{"content": "How are you feeling?"})
	require.Equal(t, http.StatusCreated, w.Code)
	e.notifier.AssertCalled(t, "Send", mock.Anything, "user-c", "How are you feeling?")

	w = e.do(t, http.MethodPost, path, e.token(t, other.ID, handler.RoleCounselor), gin.H{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, path+"?page=1&page_size=10", e.token(t, c.ID, handler.RoleCounselor), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.Page[models.Message]](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "How are you feeling?", page.Items[0].Content)

	w = e.do(t, http.MethodGet, path+"?limit=0", e.token(t, c.ID, handler.RoleCounselor), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCounselor_TransferAndEnd(t *testing.T) {
	e := newAPIEnv(t)
	from := e.counselor(t, "from", true)
	to := e.counselor(t, "to", true)
	sess := e.activeSession(t, from)
	fromTok := e.token(t, from.ID, handler.RoleCounselor)
	toTok := e.token(t, to.ID, handler.RoleCounselor)

	w := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/transfer", fromTok, gin.H{"to_counselor_id": to.ID, "reason": "shift ended"})
	require.Equal(t, http.StatusOK, w.Code)
	moved := decode[models.Session](t, w)
	assert.Equal(t, to.ID, moved.CurrentCounselorID)
	e.notifier.AssertCalled(t, "Send", mock.Anything, "to", mock.Anything)

	w = e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", fromTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "previous counselor can no longer end it")

	w = e.do(t, http.MethodGet, "/api/counselor/session", toTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", toTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Session](t, w).IsActive)

	w = e.do(t, http.MethodGet, "/api/counselor/session", toTok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCounselor_AvailabilityAndAppeal(t *testing.T) {
	e := newAPIEnv(t)
	c := e.counselor(t, "c", true)
	tok := e.token(t, c.ID, handler.RoleCounselor)

	w := e.do(t, http.MethodPut, "/api/counselor/availability", tok, gin.H{"status": "away"})
	require.Equal(t, http.StatusOK, w.Code)
	change := decode[models.AvailabilityChange](t, w)
	assert.Equal(t, models.AvailabilityAway, change.NewStatus)
	assert.Equal(t, c.ID, change.ChangedBy)

	w = e.do(t, http.MethodPut, "/api/counselor/availability", tok, gin.H{"status": "napping"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/counselor/appeals", tok, gin.H{"message": "please"})
	assert.Equal(t, http.StatusConflict, w.Code, "not suspended")
}

func TestHealth(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}
