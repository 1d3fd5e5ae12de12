package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/web/internal/session"
)

type contextKey int

const (
	loginKey contextKey = iota
	requestInfoKey
)

// SessionValidator checks a browser session id against the store
type SessionValidator interface {
	Validate(ctx context.Context, id, userAgent string) (*entities.BrowserSession, error)
}

// AuthMiddleware handles authentication checks for requests
type AuthMiddleware struct {
	sessionManager *session.Manager
	sessions       SessionValidator
	log            *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(sessionManager *session.Manager, sessions SessionValidator, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessionManager: sessionManager,
		sessions:       sessions,
		log:            logger.With(slog.String("component", "auth_middleware")),
	}
}

// Current returns the validated session of r, or nil
func (m *AuthMiddleware) Current(r *http.Request) *entities.BrowserSession {
	id, err := m.sessionManager.GetSessionID(r)
	if err != nil {
		return nil
	}
	s, err := m.sessions.Validate(r.Context(), id, r.UserAgent())
	if err != nil {
		if !errors.Is(err, services.ErrSessionInvalid) {
			m.log.Error("session validation failed", slog.String("error", err.Error()))
		}
		return nil
	}
	return s
}

// RequireAuth ensures the request carries a live session for the same User-Agent.
// The session login is available to handlers through LoginFromContext.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Current(r)
		if s == nil {
			m.log.Debug("no valid session, redirecting to login", slog.String("path", r.URL.Path))
			http.Redirect(w, r, "/auth", http.StatusSeeOther)
			return
		}

		setLogin(r.Context(), s.Login)
		next.ServeHTTP(w, r.WithContext(WithLogin(r.Context(), s.Login)))
	})
}

// WithLogin returns ctx carrying the authenticated login
func WithLogin(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, loginKey, login)
}

// LoginFromContext returns the authenticated login, if any
func LoginFromContext(ctx context.Context) (string, bool) {
	login, ok := ctx.Value(loginKey).(string)
	return login, ok && login != ""
}
