package repositories

import (
	"context"
	"time"

	"github.com/devilmonastery/passgate/internal/domain/entities"
)

// SessionRepository persists browser sessions for the web portal
type SessionRepository interface {
	Create(ctx context.Context, session *entities.BrowserSession) error
	GetByID(ctx context.Context, id string) (*entities.BrowserSession, error)
	Delete(ctx context.Context, id string) error

	// DeleteByLogin removes every session for login
	DeleteByLogin(ctx context.Context, login string) (int64, error)

	// DeleteIssuedBefore removes sessions issued before the cutoff
	DeleteIssuedBefore(ctx context.Context, before time.Time) (int64, error)
}
