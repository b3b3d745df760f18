package telegram_test

import (
	"context"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/localization"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"sanctuary/backend/internal/storage/storagetest"
	"sanctuary/backend/internal/telegram"
	"strconv"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	userChat      int64 = 100
	counselorChat int64 = 200
)

// MockSender records every outgoing Telegram message.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

// texts returns the messages sent to chatID, in order.
func (m *MockSender) texts(chatID int64) []string {
	var out []string
	for _, call := range m.Calls {
		msg, ok := call.Arguments.Get(0).(tgbotapi.MessageConfig)
		if ok && msg.ChatID == chatID {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (m *MockSender) last(chatID int64) string {
	texts := m.texts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type botEnv struct {
	bot    *telegram.BotService
	sender *MockSender
	store  *storage.Service
	loc    *localization.Localizer
}

func newBotEnv(t *testing.T, queue *storage.WaitingQueue) *botEnv {
	t.Helper()
	store := storagetest.NewService(t)
	loc, err := localization.NewLocalizer()
	require.NoError(t, err)

	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil)

	recorder := audit.NewRecorder(store, nil)
	sessions := session.NewBroker(store, nil)
	registry := counselor.NewRegistry(counselor.RegistryDependencies{Store: store, Sessions: sessions, Audit: recorder})
	engine, err := complaint.NewEngine(complaint.EngineDependencies{
		Store:      store,
		Audit:      recorder,
		Moderation: config.ModerationConfig{SuspendThreshold: 3, RevokeThreshold: 5},
	})
	require.NoError(t, err)
	hub := chathub.NewManager(chathub.ManagerDependencies{
		Store:     store,
		Notifier:  telegram.NewNotifier(sender, nil),
		Formatter: telegram.NewFormatter(loc),
	})
	matcher := chathub.NewMatcher(chathub.MatcherDependencies{
		Store:      store,
		Sessions:   sessions,
		Counselors: registry,
		Queue:      queue,
		Hub:        hub,
		Config:     config.MatchConfig{MaxAttempts: 3, PollInterval: 10 * time.Millisecond},
	})

	bot := telegram.NewBotService(telegram.BotDependencies{
		Sender:     sender,
		Store:      store,
		Sessions:   sessions,
		Counselors: registry,
		Complaints: engine,
		Router:     chathub.NewRouter(sessions, store, nil),
		Matcher:    matcher,
		Queue:      queue,
		Hub:        hub,
		Localizer:  loc,
	})
	return &botEnv{bot: bot, sender: sender, store: store, loc: loc}
}

func (e *botEnv) send(chatID int64, text string) {
	e.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: tgbotapi.Chat{ID: chatID},
			From: &tgbotapi.User{ID: chatID, LanguageCode: "en"},
		},
	})
}

func (e *botEnv) text(key string) string {
	return e.loc.GetString("en", key)
}

func (e *botEnv) approvedCounselor(t *testing.T, chatID int64) *models.Counselor {
	t.Helper()
	c := &models.Counselor{
		ExternalChatHandle: strconv.FormatInt(chatID, 10),
		IsApproved:         true,
		Availability:       models.AvailabilityAvailable,
	}
	require.NoError(t, e.store.CreateCounselor(context.Background(), c))
	return c
}

func TestBot_FullConversation(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()
	c := e.approvedCounselor(t, counselorChat)

	e.send(userChat, "/start")
	assert.Equal(t, e.text("welcome"), e.sender.last(userChat))

	e.send(userChat, "/counsel")
	assert.Equal(t, e.text("counsel_prompt"), e.sender.last(userChat))

	e.send(userChat, "/agree")
	assert.Equal(t, e.text("session_started_user"), e.sender.last(userChat))
	assert.Contains(t, e.sender.last(counselorChat), "Session:")

	user, err := e.store.GetUserByChatHandle(ctx, strconv.FormatInt(userChat, 10))
	require.NoError(t, err)
	assert.Equal(t, models.StateInSession, user.ConversationState)

	e.send(userChat, "I need someone to talk to")
	assert.Equal(t, e.loc.Format("en", "from_user", "I need someone to talk to"), e.sender.last(counselorChat))

	e.send(counselorChat, "I'm here")
	assert.Equal(t, e.loc.Format("en", "from_counselor", "I'm here"), e.sender.last(userChat))

	e.send(counselorChat, "/end")
	assert.Equal(t, e.text("session_ended"), e.sender.last(counselorChat))
	assert.Contains(t, e.sender.last(userChat), e.text("rate_prompt"))

	user, err = e.store.GetUserByChatHandle(ctx, strconv.FormatInt(userChat, 10))
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, user.ConversationState)

	e.send(userChat, "/rate 5")
	assert.Equal(t, e.text("rated"), e.sender.last(userChat))

	e.send(userChat, "/report rude replies")
	assert.Equal(t, e.text("report_submitted"), e.sender.last(userChat))

	reports, err := e.store.ListReports(ctx, storage.ReportFilter{CounselorID: c.ID})
	require.NoError(t, err)
	require.Len(t, reports.Items, 1)
	assert.Equal(t, "rude replies", reports.Items[0].Reason)

	e.send(userChat, "anyone there?")
	assert.Equal(t, e.text("not_in_session"), e.sender.last(userChat))
}

func TestBot_AgreeRequiresConsentPrompt(t *testing.T) {
	e := newBotEnv(t, nil)
	e.approvedCounselor(t, counselorChat)

	e.send(userChat, "/agree")
	assert.Equal(t, e.text("consent_required"), e.sender.last(userChat))
	assert.Empty(t, e.sender.texts(counselorChat))
}

func TestBot_NoCounselorAvailable(t *testing.T) {
	e := newBotEnv(t, nil)

	e.send(userChat, "/counsel")
	e.send(userChat, "/agree")
	assert.Equal(t, e.text("no_counselor"), e.sender.last(userChat))

	user, err := e.store.GetUserByChatHandle(context.Background(), strconv.FormatInt(userChat, 10))
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, user.ConversationState)
}

func TestBot_QueueAndCancel(t *testing.T) {
	client, _ := storagetest.NewRedis(t)
	queue := storage.NewWaitingQueue(client)
	e := newBotEnv(t, queue)
	ctx := context.Background()

	e.send(userChat, "/counsel")
	e.send(userChat, "/agree")
	assert.Equal(t, e.text("searching"), e.sender.last(userChat))

	e.send(userChat, "/counsel")
	assert.Equal(t, e.text("already_waiting"), e.sender.last(userChat))

	e.send(userChat, "hello?")
	assert.Equal(t, e.text("already_waiting"), e.sender.last(userChat))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	e.send(userChat, "/cancel")
	assert.Equal(t, e.text("search_cancelled"), e.sender.last(userChat))
	n, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.send(userChat, "/cancel")
	assert.Equal(t, e.text("not_waiting"), e.sender.last(userChat))
}

func TestBot_CounselorCommands(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()

	e.send(counselorChat, "/available")
	assert.Equal(t, e.text("not_a_counselor"), e.sender.last(counselorChat))

	e.send(counselorChat, "/register")
	assert.Equal(t, e.text("register_pending"), e.sender.last(counselorChat))

	e.send(counselorChat, "/away@SanctuaryBot")
	assert.Equal(t, e.loc.Format("en", "availability_updated", "away"), e.sender.last(counselorChat))

	c, err := e.store.GetCounselorByChatHandle(ctx, strconv.FormatInt(counselorChat, 10))
	require.NoError(t, err)
	assert.False(t, c.HasAccess())

	e.send(counselorChat, "/appeal")
	assert.Equal(t, e.text("appeal_usage"), e.sender.last(counselorChat))

	e.send(counselorChat, "/appeal please reconsider")
	assert.Equal(t, e.text("error_conflict"), e.sender.last(counselorChat), "only suspended counselors can appeal")
}

func TestBot_UserCommandErrors(t *testing.T) {
	e := newBotEnv(t, nil)

	e.send(userChat, "/rate 5")
	assert.Equal(t, e.text("no_session"), e.sender.last(userChat))

	e.send(userChat, "/rate great")
	assert.Equal(t, e.text("rate_usage"), e.sender.last(userChat))

	e.send(userChat, "/report")
	assert.Equal(t, e.text("report_usage"), e.sender.last(userChat))

	e.send(userChat, "/end")
	assert.Equal(t, e.text("not_in_session"), e.sender.last(userChat))

	e.send(userChat, "/dance")
	assert.Equal(t, e.text("unknown_command"), e.sender.last(userChat))
}

func TestBot_RateOutOfRange(t *testing.T) {
	e := newBotEnv(t, nil)
	e.approvedCounselor(t, counselorChat)

	e.send(userChat, "/counsel")
	e.send(userChat, "/agree")
	e.send(userChat, "/end")

	e.send(userChat, "/rate 9")
	assert.Equal(t, e.text("error_validation"), e.sender.last(userChat))
}

func TestBot_IgnoresNonMessageUpdates(t *testing.T) {
	e := newBotEnv(t, nil)
	e.bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	e.sender.AssertNotCalled(t, "Send", mock.Anything)
}
