package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devilmonastery/passgate/internal/domain/conversation"
)

// maxReportLength stays below the 4096 character message limit
const maxReportLength = 4000

// Reporter sends unexpected failures to a developer chat
type Reporter struct {
	api    API
	chatID int64
	log    *slog.Logger
}

// NewReporter creates a reporter. A zero chatID disables reports.
func NewReporter(api API, chatID int64) *Reporter {
	return &Reporter{
		api:    api,
		chatID: chatID,
		log:    slog.Default().With(slog.String("component", "reporter")),
	}
}

// Report describes a failed event to the developer chat
func (r *Reporter) Report(ev conversation.Event, session conversation.Session, err error) {
	if r.chatID == 0 {
		return
	}
	if _, sendErr := r.api.Send(tgbotapi.NewMessage(r.chatID, formatReport(ev, session, err))); sendErr != nil {
		r.log.Error("failed to send developer report", slog.String("error", sendErr.Error()))
	}
}

func formatReport(ev conversation.Event, session conversation.Session, err error) string {
	var b strings.Builder
	b.WriteString("An error was raised while handling an update\n\n")
	fmt.Fprintf(&b, "chat_id = %d\n", ev.ChatID)
	fmt.Fprintf(&b, "event = %s", ev.Kind)
	switch ev.Kind {
	case conversation.EventCommand:
		fmt.Fprintf(&b, " /%s", ev.Command)
	case conversation.EventCallback:
		fmt.Fprintf(&b, " %q", ev.Data)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "state = %s\n", session.State)
	if session.Context.Login != "" {
		fmt.Fprintf(&b, "login = %s\n", session.Context.Login)
	}
	fmt.Fprintf(&b, "\n%v", err)
	return truncate(b.String(), maxReportLength)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
