package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "passgate_session"

	// SessionIDKey is the cookie value key holding the server-side session id
	SessionIDKey = "sid"
)

// ErrNoSession is returned when the cookie carries no session id
var ErrNoSession = errors.New("no session")

// Manager wraps gorilla/sessions for our use case. The cookie only carries the
// id of a browser session row; login and expiry live server-side.
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a new session manager
// secretKey should be 32 bytes; secure marks the cookie HTTPS-only
func NewManager(secretKey []byte, maxAge time.Duration, secure bool) *Manager {
	store := sessions.NewCookieStore(secretKey)

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		store: store,
	}
}

// SetSessionID stores the browser session id in the cookie
func (m *Manager) SetSessionID(r *http.Request, w http.ResponseWriter, id string) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		// A cookie signed with an old secret decodes as an error; start over
		session, _ = m.store.New(r, SessionName)
	}

	session.Values[SessionIDKey] = id
	return session.Save(r, w)
}

// GetSessionID retrieves the browser session id from the cookie
func (m *Manager) GetSessionID(r *http.Request) (string, error) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return "", ErrNoSession
	}

	id, ok := session.Values[SessionIDKey].(string)
	if !ok || id == "" {
		return "", ErrNoSession
	}

	return id, nil
}

// Clear removes the cookie (logout)
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		session, _ = m.store.New(r, SessionName)
	}

	// MaxAge -1 deletes the cookie
	session.Options.MaxAge = -1
	delete(session.Values, SessionIDKey)
	return session.Save(r, w)
}
