package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
)

// SessionService manages web portal logins
type SessionService struct {
	sessions   repositories.SessionRepository
	identities *IdentityService
	dir        directory.Directory
	audit      *Auditor
	maxAge     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewSessionService creates a new session service
func NewSessionService(sessions repositories.SessionRepository, identities *IdentityService, dir directory.Directory, audit *Auditor, maxAge time.Duration) *SessionService {
	return &SessionService{
		sessions:   sessions,
		identities: identities,
		dir:        dir,
		audit:      audit,
		maxAge:     maxAge,
		now:        time.Now,
		logger:     slog.Default().With(slog.String("component", "session_service")),
	}
}

// Login checks the password against the directory and starts a new session.
// Any earlier session of the same login, and the caller's previous session, are dropped.
func (s *SessionService) Login(ctx context.Context, rawLogin, password, userAgent, previousID string) (*entities.BrowserSession, error) {
	login, err := s.identities.Normalize(rawLogin)
	if err != nil {
		return nil, err
	}

	ok, err := s.dir.Authenticate(ctx, login, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	if !ok {
		s.audit.record(ctx, entities.NewAuditLog(login, entities.ActionSessionLogin).WithError(ErrInvalidCredentials))
		return nil, ErrInvalidCredentials
	}

	if previousID != "" {
		if err := s.sessions.Delete(ctx, previousID); err != nil {
			return nil, fmt.Errorf("failed to drop previous session: %w", err)
		}
	}
	if _, err := s.sessions.DeleteByLogin(ctx, login); err != nil {
		return nil, fmt.Errorf("failed to drop existing sessions: %w", err)
	}

	session := &entities.BrowserSession{
		Login:     login,
		UserAgent: userAgent,
		IssuedAt:  s.now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.audit.record(ctx, entities.NewAuditLog(login, entities.ActionSessionLogin))
	s.logger.Info("user logged in", slog.String("login", login))
	return session, nil
}

// Validate returns the session if it exists, belongs to userAgent and has not expired
func (s *SessionService) Validate(ctx context.Context, id, userAgent string) (*entities.BrowserSession, error) {
	if id == "" {
		return nil, ErrSessionInvalid
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !session.Matches(userAgent, s.now(), s.maxAge) {
		return nil, ErrSessionInvalid
	}
	return session, nil
}

// Logout deletes the session
func (s *SessionService) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.record(ctx, entities.NewAuditLog(session.Login, entities.ActionSessionLogout))
	s.logger.Info("user logged out", slog.String("login", session.Login))
	return nil
}

// Cleanup purges sessions older than the configured max age
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	return s.sessions.DeleteIssuedBefore(ctx, s.now().Add(-s.maxAge))
}
