// Package telegram pushes out-of-band alerts to users who linked a
// Telegram chat.
package telegram

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier sends plain-text alerts via the bot API. It satisfies the
// notification worker's pusher interface.
type Notifier struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewNotifier authenticates the bot. An empty token returns (nil, nil) so
// callers can treat the side channel as disabled.
func NewNotifier(token string, log zerolog.Logger) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")
	return &Notifier{bot: bot, log: log}, nil
}

// Push sends text to the chat identified by telegramID.
func (n *Notifier) Push(ctx context.Context, telegramID, text string) error {
	chatID, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	_, err = n.bot.Send(msg)
	return err
}
