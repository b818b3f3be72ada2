// Package telegram implements domain.ChatSink over the Telegram Bot
// API, used by the Alert Engine to deliver rendered messages.
package telegram

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sink sends plaintext alert messages to Telegram chat IDs.
type Sink struct {
	bot *tgbotapi.BotAPI
}

func NewSink(token string) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Sink{bot: bot}, nil
}

// Send implements domain.ChatSink. chatID is parsed as a Telegram
// numeric chat/channel ID; messages are sent without a parse mode, so
// the text arrives exactly as rendered.
func (s *Sink) Send(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)

	done := make(chan error, 1)
	go func() {
		_, sendErr := s.bot.Send(msg)
		done <- sendErr
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
