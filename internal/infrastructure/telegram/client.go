// Package telegram wires the Bot API client and delivers outbound chat messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NewClient creates a Bot API client whose HTTP calls are instrumented.
// timeout must exceed the long-poll timeout used by getUpdates.
func NewClient(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	httpClient := &http.Client{
		Transport: NewMetricsTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return api, nil
}

// Sender is the part of *tgbotapi.BotAPI used for outbound messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Messenger delivers short texts to bound chats
type Messenger struct {
	api Sender
	log *slog.Logger
}

// NewMessenger creates a messenger on top of a Bot API client
func NewMessenger(api Sender) *Messenger {
	return &Messenger{
		api: api,
		log: slog.Default().With(slog.String("component", "telegram_messenger")),
	}
}

// Deliver sends text to the chat identified by destinationID (a decimal chat id)
func (m *Messenger) Deliver(ctx context.Context, destinationID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(destinationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat destination %q: %w", destinationID, err)
	}

	if _, err := m.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		m.log.Warn("failed to deliver message",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to deliver message: %w", err)
	}

	m.log.Debug("message delivered", slog.Int64("chat_id", chatID))
	return nil
}
