package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestAPIMethod(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "send message", path: "/bot123456:ABC-DEF/sendMessage", expected: "sendMessage"},
		{name: "get updates", path: "/bot123456:ABC-DEF/getUpdates", expected: "getUpdates"},
		{name: "file download", path: "/file/bot123456:ABC/photos/file_1.jpg", expected: "file"},
		{name: "not bot api", path: "/health", expected: "unknown"},
		{name: "empty", path: "/", expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apiMethod(tt.path)
			if got != tt.expected {
				t.Errorf("apiMethod(%q) = %q, want %q", tt.path, got, tt.expected)
			}
			if strings.Contains(got, "ABC") {
				t.Errorf("apiMethod(%q) leaked the token", tt.path)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   string
	}{
		{name: "bad request", statusCode: 400, expected: "bad_request"},
		{name: "blocked by user", statusCode: 403, expected: "forbidden"},
		{name: "conflicting poller", statusCode: 409, expected: "conflict"},
		{name: "rate limited", statusCode: 429, expected: "rate_limited"},
		{name: "server error", statusCode: 502, expected: "server_error"},
		{name: "timeout", err: errors.New("context deadline exceeded"), expected: "timeout"},
		{name: "network", err: errors.New("no route to host"), expected: "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.statusCode, tt.err); got != tt.expected {
				t.Errorf("classifyError(%d, %v) = %q, want %q", tt.statusCode, tt.err, got, tt.expected)
			}
		})
	}
}

func TestMetricsTransportPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewMetricsTransport(nil)}
	resp, err := client.Get(srv.URL + "/anything")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestMessengerDeliver(t *testing.T) {
	sender := &fakeSender{}
	m := NewMessenger(sender)

	if err := m.Deliver(context.Background(), "-100200300", "hello"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID != -100200300 || sender.sent[0].Text != "hello" {
		t.Errorf("sent = %+v", sender.sent)
	}

	if err := m.Deliver(context.Background(), "not-a-chat", "x"); err == nil {
		t.Error("Deliver() with bad destination should fail")
	}

	sender.err = errors.New("forbidden: bot was blocked by the user")
	if err := m.Deliver(context.Background(), "42", "x"); err == nil {
		t.Error("Deliver() should surface send errors")
	}
}
