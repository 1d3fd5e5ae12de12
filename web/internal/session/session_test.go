package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

// replay copies the cookies a response set onto a fresh request
func replay(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSessionIDRoundTrip(t *testing.T) {
	m := NewManager(testSecret(), time.Hour, false)

	rec := httptest.NewRecorder()
	if err := m.SetSessionID(httptest.NewRequest(http.MethodGet, "/", nil), rec, "123"); err != nil {
		t.Fatalf("SetSessionID() error = %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionName {
		t.Fatalf("cookies = %v, want one %s cookie", cookies, SessionName)
	}
	if !cookies[0].HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if cookies[0].MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookies[0].MaxAge)
	}

	id, err := m.GetSessionID(replay(rec))
	if err != nil {
		t.Fatalf("GetSessionID() error = %v", err)
	}
	if id != "123" {
		t.Errorf("GetSessionID() = %q, want 123", id)
	}
}

func TestGetSessionIDWithoutCookie(t *testing.T) {
	m := NewManager(testSecret(), time.Hour, false)
	if _, err := m.GetSessionID(httptest.NewRequest(http.MethodGet, "/", nil)); err != ErrNoSession {
		t.Errorf("GetSessionID() error = %v, want ErrNoSession", err)
	}
}

func TestCookieFromOtherSecretIsIgnored(t *testing.T) {
	signer := NewManager(testSecret(), time.Hour, false)
	rec := httptest.NewRecorder()
	if err := signer.SetSessionID(httptest.NewRequest(http.MethodGet, "/", nil), rec, "123"); err != nil {
		t.Fatalf("SetSessionID() error = %v", err)
	}

	other := NewManager([]byte("fedcba9876543210fedcba9876543210"), time.Hour, false)
	if _, err := other.GetSessionID(replay(rec)); err != ErrNoSession {
		t.Errorf("GetSessionID() error = %v, want ErrNoSession", err)
	}
}

func TestClear(t *testing.T) {
	m := NewManager(testSecret(), time.Hour, true)

	rec := httptest.NewRecorder()
	if err := m.SetSessionID(httptest.NewRequest(http.MethodGet, "/", nil), rec, "123"); err != nil {
		t.Fatalf("SetSessionID() error = %v", err)
	}
	if !rec.Result().Cookies()[0].Secure {
		t.Error("cookie should be Secure")
	}

	cleared := httptest.NewRecorder()
	if err := m.Clear(replay(rec), cleared); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	cookies := cleared.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies = %v, want one expired cookie", cookies)
	}
}
