package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devilmonastery/passgate/internal/domain/conversation"
)

// EventFromUpdate translates a Telegram update into a conversation event.
// ok is false when the update is not addressed to a chat.
func EventFromUpdate(u tgbotapi.Update) (ev conversation.Event, ok bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		ev = conversation.Event{
			Kind:       conversation.EventCallback,
			Data:       cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
			ev.MessageID = cq.Message.MessageID
		} else if cq.From != nil {
			ev.ChatID = cq.From.ID
		}
		return ev, ev.ChatID != 0

	case u.Message != nil:
		m := u.Message
		if m.Chat == nil {
			return ev, false
		}
		ev.ChatID = m.Chat.ID
		switch {
		case m.IsCommand():
			ev.Kind = conversation.EventCommand
			ev.Command = strings.ToLower(m.Command())
			ev.Args = m.CommandArguments()
		case m.Text != "":
			ev.Kind = conversation.EventText
			ev.Text = m.Text
		}
		return ev, true
	}
	return ev, false
}
