package repositories

import (
	"context"

	"github.com/devilmonastery/passgate/internal/domain/entities"
)

// IdentityRepository persists Identity Records, one row per directory login
type IdentityRepository interface {
	// Create inserts a transient record and assigns its ID and initial version
	Create(ctx context.Context, identity *entities.Identity) error

	// GetByLogin retrieves the record for a canonical login
	GetByLogin(ctx context.Context, login string) (*entities.Identity, error)

	// GetByChat retrieves the record bound to a chat id
	GetByChat(ctx context.Context, chatID int64) (*entities.Identity, error)

	// Update writes the record back, matched by ID and Version.
	// Returns ErrVersionConflict when the stored version moved on; bumps Version on success.
	Update(ctx context.Context, identity *entities.Identity) error
}

// Save inserts a transient record or updates a persisted one
func Save(ctx context.Context, repo IdentityRepository, identity *entities.Identity) error {
	if identity.IsPersisted() {
		return repo.Update(ctx, identity)
	}
	return repo.Create(ctx, identity)
}
