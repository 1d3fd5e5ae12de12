package services

import (
	"context"
	"log/slog"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
)

// Auditor writes audit entries best-effort: a failed write is logged and never fails the step.
// A nil Auditor discards everything.
type Auditor struct {
	repo   repositories.AuditRepository
	logger *slog.Logger
}

// NewAuditor creates an auditor on top of the audit repository
func NewAuditor(repo repositories.AuditRepository) *Auditor {
	return &Auditor{
		repo:   repo,
		logger: slog.Default().With(slog.String("component", "audit")),
	}
}

func (a *Auditor) record(ctx context.Context, entry *entities.AuditLog) {
	if a == nil || a.repo == nil {
		return
	}
	if err := a.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("failed to write audit log",
			slog.String("action", string(entry.Action)),
			slog.String("login", entry.Login),
			slog.String("error", err.Error()))
	}
}

// List returns recent audit entries for a login
func (a *Auditor) List(ctx context.Context, login string, limit int) ([]*entities.AuditLog, error) {
	if a == nil || a.repo == nil {
		return nil, nil
	}
	return a.repo.ListByLogin(ctx, login, limit)
}
