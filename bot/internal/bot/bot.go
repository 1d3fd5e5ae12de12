package bot

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/conversation"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// API is the part of *tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot represents the Telegram bot instance
type Bot struct {
	api         API
	machine     *conversation.Machine
	sessions    *SessionStore
	dispatcher  *Dispatcher
	reporter    *Reporter
	pollTimeout int
	log         *slog.Logger
}

// New creates a new Bot instance
func New(api API, machine *conversation.Machine, cfg config.TelegramConfig) *Bot {
	b := &Bot{
		api:         api,
		machine:     machine,
		sessions:    NewSessionStore(cfg.SessionIdleTTL),
		reporter:    NewReporter(api, cfg.DeveloperChatID),
		pollTimeout: cfg.PollTimeout,
		log:         slog.Default().With(slog.String("component", "bot")),
	}
	b.dispatcher = NewDispatcher(b.handle)
	return b
}

// Run long-polls for updates until ctx is cancelled, then waits for the chat
// workers to finish.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("polling for updates", slog.Int("timeout", b.pollTimeout))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.dispatcher.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.dispatcher.Wait()
				return nil
			}
			b.route(ctx, update)
		}
	}
}

// route hands an update to the worker of its chat
func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	ev, ok := EventFromUpdate(update)
	if !ok {
		metrics.BotUpdates.WithLabelValues("ignored").Inc()
		b.log.Debug("update ignored", slog.Int("update_id", update.UpdateID))
		if cq := update.CallbackQuery; cq != nil && cq.ID != "" {
			if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
				b.log.Warn("failed to answer ignored callback", slog.String("error", err.Error()))
			}
		}
		return
	}
	metrics.BotUpdates.WithLabelValues(ev.Kind.String()).Inc()
	logger.WithChat(b.log, ev.ChatID).Debug("update received",
		slog.Int("update_id", update.UpdateID),
		slog.String("kind", ev.Kind.String()),
		slog.String("command", ev.Command))
	b.dispatcher.Dispatch(ctx, ev)
}

// handle runs one event through the conversation of its chat
func (b *Bot) handle(ctx context.Context, ev conversation.Event) {
	current := b.sessions.Get(ev.ChatID)
	next, effects, err := b.machine.Handle(ctx, current, ev)
	b.sessions.Put(ev.ChatID, next)
	b.execute(ev.ChatID, effects)
	if err != nil {
		b.reporter.Report(ev, current, err)
	}
}
