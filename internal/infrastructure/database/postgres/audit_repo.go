package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// AuditRepository implements the AuditRepository interface for PostgreSQL
type AuditRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *sqlx.DB) repositories.AuditRepository {
	return &AuditRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "audit")),
	}
}

// auditLogRow represents an audit log as stored in the database
type auditLogRow struct {
	ID          string               `db:"id"`
	Login       string               `db:"login"`
	Action      string               `db:"action"`
	Destination entities.Destination `db:"destination"`
	Success     bool                 `db:"success"`
	Metadata    string               `db:"metadata"`
	CreatedAt   time.Time            `db:"created_at"`
}

// toEntity converts an auditLogRow to a domain entity
func (r *auditLogRow) toEntity() (*entities.AuditLog, error) {
	auditLog := &entities.AuditLog{
		ID:          r.ID,
		Login:       r.Login,
		Action:      entities.AuditAction(r.Action),
		Destination: r.Destination,
		Success:     r.Success,
		CreatedAt:   r.CreatedAt,
	}

	if err := auditLog.UnmarshalMetadataFromJSON(r.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return auditLog, nil
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("audit", "create", time.Since(start), err)
	}()

	if log.ID == "" {
		log.ID = idgen.GenerateID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	r.log.Debug("creating audit log",
		slog.String("action", string(log.Action)),
		slog.String("login", log.Login),
		slog.String("destination", log.Destination.String()),
		slog.Bool("success", log.Success))

	metadata, err := log.MarshalMetadataToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	row := &auditLogRow{
		ID:          log.ID,
		Login:       log.Login,
		Action:      string(log.Action),
		Destination: log.Destination,
		Success:     log.Success,
		Metadata:    metadata,
		CreatedAt:   log.CreatedAt,
	}

	query := `
		INSERT INTO audit_logs (id, login, action, destination, success, metadata, created_at)
		VALUES (:id, :login, :action, :destination, :success, CAST(:metadata AS jsonb), :created_at)
	`

	_, err = r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// ListByLogin returns the newest entries for login
func (r *AuditRepository) ListByLogin(ctx context.Context, login string, limit int) ([]*entities.AuditLog, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("audit", "list_by_login", time.Since(start), err)
	}()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []auditLogRow
	query := `
		SELECT id, login, action, destination, success, metadata::text AS metadata, created_at
		FROM audit_logs
		WHERE login = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	err = r.db.SelectContext(ctx, &rows, query, login, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]*entities.AuditLog, 0, len(rows))
	for i := range rows {
		entry, convErr := rows[i].toEntity()
		if convErr != nil {
			err = convErr
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, nil
}
