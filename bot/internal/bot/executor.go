package bot

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devilmonastery/passgate/internal/domain/conversation"
)

// execute performs effects in order. Delivery failures are logged and the
// remaining effects still run.
func (b *Bot) execute(chatID int64, effects []conversation.Effect) {
	for _, effect := range effects {
		var err error
		switch e := effect.(type) {
		case conversation.Reply:
			msg := tgbotapi.NewMessage(chatID, e.Text)
			if len(e.Keyboard) > 0 {
				msg.ReplyMarkup = keyboard(e.Keyboard)
			}
			_, err = b.api.Send(msg)
		case conversation.EditMessage:
			_, err = b.api.Request(tgbotapi.NewEditMessageText(chatID, e.MessageID, e.Text))
		case conversation.AnswerCallback:
			_, err = b.api.Request(tgbotapi.NewCallback(e.CallbackID, e.Text))
		}
		if err != nil {
			b.log.Warn("failed to execute effect",
				slog.Int64("chat_id", chatID),
				slog.String("effect", effectName(effect)),
				slog.String("error", err.Error()))
		}
	}
}

func keyboard(buttons []conversation.Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func effectName(e conversation.Effect) string {
	switch e.(type) {
	case conversation.Reply:
		return "reply"
	case conversation.EditMessage:
		return "edit"
	case conversation.AnswerCallback:
		return "answer_callback"
	default:
		return "unknown"
	}
}
