package repositories

import (
	"context"

	"github.com/devilmonastery/passgate/internal/domain/entities"
)

// AuditRepository defines the interface for audit log data access
type AuditRepository interface {
	// Create a new audit log entry
	Create(ctx context.Context, log *entities.AuditLog) error

	// ListByLogin returns the most recent entries for login, newest first
	ListByLogin(ctx context.Context, login string, limit int) ([]*entities.AuditLog, error)
}
