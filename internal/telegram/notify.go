// Package telegram delivers operational alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends a text notification somewhere an operator will see it.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// BotNotifier sends messages to a fixed chat through the Bot API.
type BotNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewBotNotifier authenticates the bot and returns a notifier bound to
// the given chat.
func NewBotNotifier(token string, chatID int64) (*BotNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &BotNotifier{bot: bot, chatID: chatID}, nil
}

// Notify implements Notifier.
func (n *BotNotifier) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

var _ Notifier = (*BotNotifier)(nil)
