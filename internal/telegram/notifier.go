package telegram

import (
	"context"
	"fmt"
	"sanctuary/backend/internal/logging"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of *tgbotapi.BotAPI the broker uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends plain text to a Telegram chat. Failures are returned for the
// caller to log; nothing is retried. Without a Sender it only logs.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logging.OrNop(logger)}
}

// Send delivers text to the chat identified by chatHandle, the decimal
// Telegram chat id.
func (n *Notifier) Send(ctx context.Context, chatHandle, text string) error {
	chatID, err := strconv.ParseInt(chatHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat handle %q: %w", chatHandle, err)
	}
	if text == "" {
		return nil
	}
	if n.sender == nil {
		n.logger.Info("notification (no bot configured)", zap.Int64("chat_id", chatID), zap.Int("length", len(text)))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}
