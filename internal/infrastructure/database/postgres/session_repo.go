package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// SessionRepository implements the SessionRepository interface for PostgreSQL
type SessionRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewSessionRepository creates a new PostgreSQL browser session repository
func NewSessionRepository(db *sqlx.DB) repositories.SessionRepository {
	return &SessionRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "browser_session")),
	}
}

// Create stores a new browser session
func (r *SessionRepository) Create(ctx context.Context, session *entities.BrowserSession) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("browser_session", "create", time.Since(start), err)
	}()

	if session.ID == "" {
		session.ID = idgen.GenerateID()
	}
	if session.IssuedAt.IsZero() {
		session.IssuedAt = time.Now()
	}

	query := `
		INSERT INTO browser_sessions (id, login, user_agent, issued_at)
		VALUES (:id, :login, :user_agent, :issued_at)
	`
	_, err = r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a browser session
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.BrowserSession, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("browser_session", "get_by_id", time.Since(start), err)
	}()

	var session entities.BrowserSession
	query := `SELECT id, login, user_agent, issued_at FROM browser_sessions WHERE id = $1`

	err = r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrSessionNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Delete removes a browser session. Deleting a missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("browser_session", "delete", time.Since(start), err)
	}()

	_, err = r.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByLogin removes all sessions of a login
func (r *SessionRepository) DeleteByLogin(ctx context.Context, login string) (int64, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("browser_session", "delete_by_login", time.Since(start), err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE login = $1`, login)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions by login: %w", err)
	}
	return result.RowsAffected()
}

// DeleteIssuedBefore removes sessions issued before the cutoff
func (r *SessionRepository) DeleteIssuedBefore(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("browser_session", "delete_expired", time.Since(start), err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE issued_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Info("purged expired sessions", slog.Int64("count", deleted))
	}
	return deleted, nil
}
