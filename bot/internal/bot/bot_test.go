package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/conversation"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/infrastructure/database/memory"
)

const developerChat int64 = 1000

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
	notify   chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		updates: make(chan tgbotapi.Update, 8),
		notify:  make(chan struct{}, 64),
	}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// messages returns the chat id and text of every sent message
func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

type fakeDirectory struct {
	err error
}

func (d *fakeDirectory) Lookup(_ context.Context, principal string) (*directory.Principal, error) {
	if d.err != nil {
		return nil, d.err
	}
	if principal != "alice@corp.local" {
		return nil, directory.ErrPrincipalNotFound
	}
	return &directory.Principal{PrincipalName: principal, DisplayName: "Alice Liddell"}, nil
}

func (d *fakeDirectory) Authenticate(context.Context, string, string) (bool, error) {
	return false, nil
}

func (d *fakeDirectory) SetPassword(context.Context, string, string) error {
	return nil
}

func newTestBot(t *testing.T, dir *fakeDirectory) (*Bot, *fakeAPI) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Directory.RequestDomain = "corp.local"
	cfg.Telegram.DeveloperChatID = developerChat

	svc := services.New(services.Deps{Config: cfg, Directory: dir, Repositories: memory.New()})
	api := newFakeAPI()
	machine := conversation.NewMachine(svc.Identities, svc.Tokens, svc.Binding)
	return New(api, machine, cfg.Telegram), api
}

func TestHandleMovesConversation(t *testing.T) {
	b, api := newTestBot(t, &fakeDirectory{})

	b.handle(context.Background(), conversation.Event{ChatID: 42, Kind: conversation.EventCommand, Command: "start"})
	if got := b.sessions.Get(42).State; got != conversation.StateLogin {
		t.Fatalf("state after /start = %v", got)
	}

	msgs := api.messages()
	if len(msgs) != 1 || msgs[0].ChatID != 42 || !strings.Contains(msgs[0].Text, "login") {
		t.Errorf("messages = %+v", msgs)
	}

	b.handle(context.Background(), conversation.Event{ChatID: 42, Kind: conversation.EventText, Text: "alice"})
	if got := b.sessions.Get(42).State; got != conversation.StateLogin {
		t.Errorf("state without pending binding = %v", got)
	}
}

func TestHandleReportsUnexpectedErrors(t *testing.T) {
	b, api := newTestBot(t, &fakeDirectory{err: errors.New("ldap: connection refused")})
	b.sessions.Put(42, conversation.Session{State: conversation.StateLogin})

	b.handle(context.Background(), conversation.Event{ChatID: 42, Kind: conversation.EventText, Text: "alice"})

	if got := b.sessions.Get(42).State; got != conversation.StateLogin {
		t.Errorf("state = %v, want unchanged", got)
	}

	var user, developer []string
	for _, m := range api.messages() {
		switch m.ChatID {
		case 42:
			user = append(user, m.Text)
		case developerChat:
			developer = append(developer, m.Text)
		}
	}
	if len(user) != 1 || !strings.Contains(user[0], "went wrong") {
		t.Errorf("user messages = %q", user)
	}
	if len(developer) != 1 || !strings.Contains(developer[0], "connection refused") || !strings.Contains(developer[0], "chat_id = 42") {
		t.Errorf("developer report = %q", developer)
	}
	if strings.Contains(developer[0], "alice") {
		t.Error("report leaked the message text")
	}
}

func TestExecute(t *testing.T) {
	b, api := newTestBot(t, &fakeDirectory{})

	b.execute(42, []conversation.Effect{
		conversation.Reply{Text: "pick", Keyboard: []conversation.Button{{Text: "Save", Data: "save"}, {Text: "Reset", Data: "reset"}}},
		conversation.AnswerCallback{CallbackID: "cb"},
		conversation.EditMessage{MessageID: 9, Text: "done"},
	})

	msgs := api.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	markup, ok := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("reply markup = %#v", msgs[0].ReplyMarkup)
	}
	if data := markup.InlineKeyboard[0][1].CallbackData; data == nil || *data != "reset" {
		t.Errorf("second button data = %v", data)
	}

	if len(api.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(api.requests))
	}
	if cb, ok := api.requests[0].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cb" {
		t.Errorf("first request = %#v", api.requests[0])
	}
	if edit, ok := api.requests[1].(tgbotapi.EditMessageTextConfig); !ok || edit.MessageID != 9 || edit.ChatID != 42 || edit.Text != "done" {
		t.Errorf("second request = %#v", api.requests[1])
	}
}

func TestRouteAnswersUnroutableCallback(t *testing.T) {
	b, api := newTestBot(t, &fakeDirectory{})

	b.route(context.Background(), tgbotapi.Update{UpdateID: 3, CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb-x", Data: "save"}})

	if len(api.messages()) != 0 {
		t.Error("unroutable callback produced a message")
	}
	api.mu.Lock()
	requests := append([]tgbotapi.Chattable(nil), api.requests...)
	api.mu.Unlock()
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	if cb, ok := requests[0].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cb-x" {
		t.Errorf("request = %#v, want callback answer", requests[0])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b, api := newTestBot(t, &fakeDirectory{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     "/help",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}}

	select {
	case <-api.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to /help")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if !api.stopped {
		t.Error("polling not stopped")
	}
}
