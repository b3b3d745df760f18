// Package telegram handles the integration with the Telegram Bot API.
// It receives updates, turns commands into broker operations and pushes
// free text through the message router.
package telegram

import (
	"context"
	"errors"
	"sanctuary/backend/internal/apperrors"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/localization"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/models"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const updateTimeout = 30 * time.Second

// BotDependencies groups the collaborators of a BotService. Queue is
// optional: without it /agree matches synchronously.
type BotDependencies struct {
	Sender     Sender
	Store      *storage.Service
	Sessions   *session.Broker
	Counselors *counselor.Registry
	Complaints *complaint.Engine
	Router     *chathub.Router
	Matcher    *chathub.Matcher
	Queue      *storage.WaitingQueue
	Hub        *chathub.Manager
	Localizer  *localization.Localizer
	Logger     *zap.Logger
}

// BotService turns Telegram updates into broker operations.
type BotService struct {
	sender     Sender
	store      *storage.Service
	sessions   *session.Broker
	counselors *counselor.Registry
	complaints *complaint.Engine
	router     *chathub.Router
	matcher    *chathub.Matcher
	queue      *storage.WaitingQueue
	hub        *chathub.Manager
	localizer  *localization.Localizer
	logger     *zap.Logger
}

func NewBotService(deps BotDependencies) *BotService {
	return &BotService{
		sender:     deps.Sender,
		store:      deps.Store,
		sessions:   deps.Sessions,
		counselors: deps.Counselors,
		complaints: deps.Complaints,
		router:     deps.Router,
		matcher:    deps.Matcher,
		queue:      deps.Queue,
		hub:        deps.Hub,
		localizer:  deps.Localizer,
		logger:     logging.OrNop(deps.Logger),
	}
}

// incoming is the part of a Telegram message the handlers care about.
type incoming struct {
	chatID int64
	handle string
	lang   string
	text   string
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (s *BotService) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			uctx, cancel := context.WithTimeout(ctx, updateTimeout)
			s.HandleUpdate(uctx, update)
			cancel()
		}
	}
}

// HandleUpdate processes a single update. Only plain messages are handled.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	in := incoming{
		chatID: msg.Chat.ID,
		handle: strconv.FormatInt(msg.Chat.ID, 10),
		text:   strings.TrimSpace(extractMessageContent(msg)),
	}
	if msg.From != nil {
		in.lang = msg.From.LanguageCode
	}
	if in.text == "" {
		return
	}

	if strings.HasPrefix(in.text, "/") {
		s.handleCommand(ctx, in)
		return
	}
	s.handleText(ctx, in)
}

// extractMessageContent uniformly extracts text or a caption from a message.
func extractMessageContent(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// parseCommand splits "/cmd@bot args" into "cmd" and "args".
func parseCommand(text string) (string, string) {
	parts := strings.SplitN(strings.TrimPrefix(text, "/"), " ", 2)
	command := strings.ToLower(parts[0])
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	var args string
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args
}

func (s *BotService) handleCommand(ctx context.Context, in incoming) {
	command, args := parseCommand(in.text)
	s.logger.Debug("command received", zap.String("command", command), zap.Int64("chat_id", in.chatID))

	switch command {
	case "start":
		if _, err := s.store.SaveUserIfNotExists(ctx, in.handle); err != nil {
			s.replyError(in, err)
			return
		}
		s.reply(in, "welcome")
	case "help":
		s.reply(in, "help")
	case "counsel":
		s.handleCounsel(ctx, in)
	case "agree":
		s.handleAgree(ctx, in)
	case "cancel":
		s.handleCancel(ctx, in)
	case "end":
		s.handleEnd(ctx, in)
	case "report":
		s.handleReport(ctx, in, args)
	case "rate":
		s.handleRate(ctx, in, args)
	case "register":
		s.handleRegister(ctx, in)
	case "available", "away":
		s.handleAvailability(ctx, in, command)
	case "appeal":
		s.handleAppeal(ctx, in, args)
	default:
		s.reply(in, "unknown_command")
	}
}

func (s *BotService) handleCounsel(ctx context.Context, in incoming) {
	user, err := s.store.SaveUserIfNotExists(ctx, in.handle)
	if err != nil {
		s.replyError(in, err)
		return
	}
	if busy, err := s.userBusy(ctx, in, user); err != nil || busy {
		return
	}
	if err := s.store.SetUserState(ctx, user.ID, models.StateAwaitingConsent); err != nil {
		s.replyError(in, err)
		return
	}
	s.reply(in, "counsel_prompt")
}

func (s *BotService) handleAgree(ctx context.Context, in incoming) {
	user, err := s.store.SaveUserIfNotExists(ctx, in.handle)
	if err != nil {
		s.replyError(in, err)
		return
	}
	if user.ConversationState != models.StateAwaitingConsent {
		if busy, err := s.userBusy(ctx, in, user); err != nil || busy {
			return
		}
		s.reply(in, "consent_required")
		return
	}
	if err := s.store.SetUserState(ctx, user.ID, models.StateWaitingCounselor); err != nil {
		s.replyError(in, err)
		return
	}

	if s.queue != nil {
		added, err := s.queue.Enqueue(ctx, user.ID)
		if err != nil {
			s.replyError(in, err)
			return
		}
		if !added {
			s.reply(in, "already_waiting")
			return
		}
		s.reply(in, "searching")
		return
	}

	// Without a queue the match happens inline; the matcher announces success.
	if _, err := s.matcher.Assign(ctx, user.ID); err != nil {
		s.resetState(ctx, user.ID)
		if errors.Is(err, chathub.ErrNoCounselorAvailable) {
			s.reply(in, "no_counselor")
			return
		}
		s.replyError(in, err)
	}
}

// userBusy replies and reports true when the user is already queued or in a
// session.
func (s *BotService) userBusy(ctx context.Context, in incoming, user *models.User) (bool, error) {
	active, err := s.store.ActiveSessionForUser(ctx, user.ID)
	if err != nil {
		s.replyError(in, err)
		return false, err
	}
	if active != nil {
		s.reply(in, "already_in_session")
		return true, nil
	}
	if s.queue != nil {
		waiting, err := s.queue.Contains(ctx, user.ID)
		if err != nil {
			s.replyError(in, err)
			return false, err
		}
		if waiting {
			s.reply(in, "already_waiting")
			return true, nil
		}
	}
	return false, nil
}

func (s *BotService) handleCancel(ctx context.Context, in incoming) {
	user, err := s.store.GetUserByChatHandle(ctx, in.handle)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			s.reply(in, "not_waiting")
			return
		}
		s.replyError(in, err)
		return
	}
	if user.ConversationState != models.StateAwaitingConsent && user.ConversationState != models.StateWaitingCounselor {
		s.reply(in, "not_waiting")
		return
	}
	if s.queue != nil {
		if err := s.queue.Remove(ctx, user.ID); err != nil {
			s.replyError(in, err)
			return
		}
	}
	s.resetState(ctx, user.ID)
	s.reply(in, "search_cancelled")
}

// handleEnd ends the session held by the sender, counselor role first.
func (s *BotService) handleEnd(ctx context.Context, in incoming) {
	sess, err := s.activeSessionByHandle(ctx, in.handle)
	if err != nil {
		s.replyError(in, err)
		return
	}
	if sess == nil {
		s.reply(in, "not_in_session")
		return
	}
	ended, err := s.sessions.EndSession(ctx, sess.ID)
	if err != nil {
		s.replyError(in, err)
		return
	}
	s.hub.SessionEnded(ctx, ended)
}

func (s *BotService) activeSessionByHandle(ctx context.Context, handle string) (*models.Session, error) {
	c, err := s.store.GetCounselorByChatHandle(ctx, handle)
	if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return nil, err
	}
	if c != nil {
		sess, err := s.sessions.ActiveSessionFor(ctx, c.ID, models.SenderCounselor)
		if err != nil || sess != nil {
			return sess, err
		}
	}

	user, err := s.store.GetUserByChatHandle(ctx, handle)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.sessions.ActiveSessionFor(ctx, user.ID, models.SenderUser)
}

func (s *BotService) handleReport(ctx context.Context, in incoming, reason string) {
	if reason == "" {
		s.reply(in, "report_usage")
		return
	}
	sess, ok := s.latestSession(ctx, in)
	if !ok {
		return
	}
	if _, err := s.complaints.SubmitReport(ctx, sess.ID, sess.CounselorID, reason); err != nil {
		s.replyError(in, err)
		return
	}
	s.reply(in, "report_submitted")
}

func (s *BotService) handleRate(ctx context.Context, in incoming, args string) {
	score, err := strconv.Atoi(args)
	if err != nil {
		s.reply(in, "rate_usage")
		return
	}
	sess, ok := s.latestSession(ctx, in)
	if !ok {
		return
	}
	if _, err := s.sessions.RateSession(ctx, sess.ID, sess.UserID, score); err != nil {
		s.replyError(in, err)
		return
	}
	s.reply(in, "rated")
}

// latestSession resolves the sender's most recent session, replying when
// there is none.
func (s *BotService) latestSession(ctx context.Context, in incoming) (*models.Session, bool) {
	user, err := s.store.GetUserByChatHandle(ctx, in.handle)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			s.reply(in, "no_session")
			return nil, false
		}
		s.replyError(in, err)
		return nil, false
	}
	sess, err := s.store.LatestSessionForUser(ctx, user.ID)
	if err != nil {
		s.replyError(in, err)
		return nil, false
	}
	if sess == nil {
		s.reply(in, "no_session")
		return nil, false
	}
	return sess, true
}

func (s *BotService) handleRegister(ctx context.Context, in incoming) {
	c, err := s.counselors.Register(ctx, in.handle)
	if err != nil {
		s.replyError(in, err)
		return
	}
	if c.HasAccess() {
		s.reply(in, "registered_active")
		return
	}
	s.reply(in, "register_pending")
}

func (s *BotService) handleAvailability(ctx context.Context, in incoming, status string) {
	c, ok := s.counselorByHandle(ctx, in)
	if !ok {
		return
	}
	if _, err := s.counselors.SetAvailability(ctx, c.ID, status, c.ID); err != nil {
		s.replyError(in, err)
		return
	}
	s.send(in.chatID, s.localizer.Format(in.lang, "availability_updated", status))
}

func (s *BotService) handleAppeal(ctx context.Context, in incoming, message string) {
	if message == "" {
		s.reply(in, "appeal_usage")
		return
	}
	c, ok := s.counselorByHandle(ctx, in)
	if !ok {
		return
	}
	if _, err := s.complaints.SubmitAppeal(ctx, c.ID, message); err != nil {
		s.replyError(in, err)
		return
	}
	s.reply(in, "appeal_submitted")
}

func (s *BotService) counselorByHandle(ctx context.Context, in incoming) (*models.Counselor, bool) {
	c, err := s.store.GetCounselorByChatHandle(ctx, in.handle)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			s.reply(in, "not_a_counselor")
			return nil, false
		}
		s.replyError(in, err)
		return nil, false
	}
	return c, true
}

// handleText routes free text into the sender's active session. A counselor
// holding a session takes precedence over a user account on the same chat.
func (s *BotService) handleText(ctx context.Context, in incoming) {
	senderID, senderType, sess, err := s.textSender(ctx, in)
	if err != nil {
		s.replyError(in, err)
		return
	}
	if sess == nil {
		return
	}

	delivery, err := s.router.RouteMessage(ctx, sess.ID, senderID, senderType, in.text)
	if err != nil {
		s.replyError(in, err)
		return
	}
	s.hub.Deliver(ctx, *delivery)
}

// textSender finds who is speaking and in which session. A nil session means
// a reply was already sent.
func (s *BotService) textSender(ctx context.Context, in incoming) (string, models.SenderType, *models.Session, error) {
	c, err := s.store.GetCounselorByChatHandle(ctx, in.handle)
	if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return "", "", nil, err
	}
	if c != nil {
		sess, err := s.sessions.ActiveSessionFor(ctx, c.ID, models.SenderCounselor)
		if err != nil {
			return "", "", nil, err
		}
		if sess != nil {
			return c.ID, models.SenderCounselor, sess, nil
		}
	}

	user, err := s.store.SaveUserIfNotExists(ctx, in.handle)
	if err != nil {
		return "", "", nil, err
	}
	switch {
	case user.ConversationState == models.StateWaitingCounselor:
		s.reply(in, "already_waiting")
		return "", "", nil, nil
	case !user.ConversationState.Routable():
		s.reply(in, "not_in_session")
		return "", "", nil, nil
	}

	sess, err := s.sessions.ActiveSessionFor(ctx, user.ID, models.SenderUser)
	if err != nil {
		return "", "", nil, err
	}
	if sess == nil {
		s.resetState(ctx, user.ID)
		s.reply(in, "not_in_session")
		return "", "", nil, nil
	}
	return user.ID, models.SenderUser, sess, nil
}

func (s *BotService) resetState(ctx context.Context, userID string) {
	if err := s.store.SetUserState(ctx, userID, models.StateIdle); err != nil {
		s.logger.Warn("failed to reset user state", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *BotService) reply(in incoming, key string) {
	s.send(in.chatID, s.localizer.GetString(in.lang, key))
}

// replyError shows a localized message for the error kind. Internal causes
// are logged, never shown.
func (s *BotService) replyError(in incoming, err error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		s.logger.Error("update handling failed", zap.Int64("chat_id", in.chatID), zap.Error(err))
	}
	s.reply(in, errorKey(kind))
}

func errorKey(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindValidation:
		return "error_validation"
	case apperrors.KindNotFound:
		return "error_not_found"
	case apperrors.KindAuthorization:
		return "error_forbidden"
	case apperrors.KindConflict:
		return "error_conflict"
	case apperrors.KindUnavailable:
		return "error_unavailable"
	default:
		return "error_generic"
	}
}

func (s *BotService) send(chatID int64, text string) {
	if s.sender == nil {
		s.logger.Info("reply (no bot configured)", zap.Int64("chat_id", chatID))
		return
	}
	if _, err := s.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.logger.Warn("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
