package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
)

// IdentityService resolves logins against the directory and merges them with stored records
type IdentityService struct {
	dir    directory.Directory
	repo   repositories.IdentityRepository
	cfg    config.DirectoryConfig
	locks  *KeyedMutex
	logger *slog.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(dir directory.Directory, repo repositories.IdentityRepository, cfg config.DirectoryConfig, locks *KeyedMutex) *IdentityService {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &IdentityService{
		dir:    dir,
		repo:   repo,
		cfg:    cfg,
		locks:  locks,
		logger: slog.Default().With(slog.String("component", "identity_service")),
	}
}

// Normalize turns user input into a principal name.
// "alice" becomes "alice@<request domain>"; "alice@<allowed domain>" is rewritten to the request domain.
func (s *IdentityService) Normalize(raw string) (string, error) {
	login := strings.TrimSpace(raw)
	if login == "" || strings.ContainsAny(login, " \t\r\n") {
		return "", ErrNotFound
	}

	parts := strings.Split(login, "@")
	switch len(parts) {
	case 1:
		return login + "@" + s.cfg.RequestDomain, nil
	case 2:
		if parts[0] == "" {
			return "", ErrNotFound
		}
		if !s.cfg.IsSupportedDomain(parts[1]) {
			return "", ErrUnsupportedDomain
		}
		return parts[0] + "@" + s.cfg.RequestDomain, nil
	default:
		return "", ErrNotFound
	}
}

// Lookup resolves raw input to a directory principal without touching the store
func (s *IdentityService) Lookup(ctx context.Context, raw string) (*directory.Principal, error) {
	principal, err := s.Normalize(raw)
	if err != nil {
		return nil, err
	}

	p, err := s.dir.Lookup(ctx, principal)
	if err != nil {
		if errors.Is(err, directory.ErrPrincipalNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("directory lookup failed",
			slog.String("principal", principal),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return p, nil
}

// Resolve returns the record for raw input, transient if it has never been stored.
// DisplayName is filled from the directory. Nothing is persisted.
func (s *IdentityService) Resolve(ctx context.Context, raw string) (*entities.Identity, error) {
	p, err := s.Lookup(ctx, raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.GetByLogin(ctx, p.PrincipalName)
	if err != nil {
		if !errors.Is(err, repositories.ErrIdentityNotFound) {
			return nil, persistErr("get identity", err)
		}
		rec = entities.NewIdentity(p.PrincipalName)
	}
	rec.DisplayName = p.DisplayName
	return rec, nil
}

// ResolveByChat returns the record bound to chatID. The display name is best-effort:
// a directory failure leaves it empty rather than failing the lookup.
func (s *IdentityService) ResolveByChat(ctx context.Context, chatID int64) (*entities.Identity, error) {
	rec, err := s.repo.GetByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrIdentityNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistErr("get identity by chat", err)
	}

	if p, err := s.dir.Lookup(ctx, rec.Login); err == nil {
		rec.DisplayName = p.DisplayName
	} else {
		s.logger.Warn("display name lookup failed",
			slog.String("login", rec.Login),
			slog.String("error", err.Error()))
	}
	return rec, nil
}

// Reload re-reads the stored row of rec, keeping the resolved display name
func (s *IdentityService) Reload(ctx context.Context, rec *entities.Identity) (*entities.Identity, error) {
	fresh, err := s.repo.GetByLogin(ctx, rec.Login)
	if err != nil {
		if errors.Is(err, repositories.ErrIdentityNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistErr("reload identity", err)
	}
	fresh.DisplayName = rec.DisplayName
	return fresh, nil
}

// Save persists rec, inserting it the first time
func (s *IdentityService) Save(ctx context.Context, rec *entities.Identity) error {
	if err := repositories.Save(ctx, s.repo, rec); err != nil {
		return persistErr("save identity", err)
	}
	return nil
}

// Lock serializes mutations of one login within this process
func (s *IdentityService) Lock(login string) func() {
	return s.locks.Lock(strings.ToLower(login))
}

// Modify resolves raw, applies fn under the login lock and saves the result.
// fn returning an error aborts without saving.
func (s *IdentityService) Modify(ctx context.Context, raw string, fn func(rec *entities.Identity) error) (*entities.Identity, error) {
	principal, err := s.Normalize(raw)
	if err != nil {
		return nil, err
	}
	unlock := s.Lock(principal)
	defer unlock()

	rec, err := s.Resolve(ctx, principal)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
