package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts digests to a fixed chat through the bot API.
type Telegram struct {
	api    telegramSender
	chatID int64
	log    *slog.Logger
}

var _ ports.Notifier = (*Telegram)(nil)

// NewTelegram authenticates the bot token against the Telegram API.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// Deliver posts the digest as a plain-text message.
func (t *Telegram) Deliver(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) error {
	msg := tgbotapi.NewMessage(t.chatID, BuildText(sub, res))
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	t.log.Debug("telegram digest sent", "chat_id", t.chatID, "subscription", sub.ID, "total", res.TotalCount)
	return nil
}
