package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
	"github.com/devilmonastery/passgate/internal/pkg/secretbox"
)

const uniqueViolation = "23505"

// IdentityRepository implements repositories.IdentityRepository for PostgreSQL
type IdentityRepository struct {
	db  *sqlx.DB
	box *secretbox.Box
	log *slog.Logger
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
// box seals otp_secret, and bind_token while it holds a pending otp secret; nil stores them as is.
func NewIdentityRepository(db *sqlx.DB, box *secretbox.Box) repositories.IdentityRepository {
	return &IdentityRepository{
		db:  db,
		box: box,
		log: slog.Default().With(slog.String("repo", "identity")),
	}
}

// identityRow represents an identity as stored in the database
type identityRow struct {
	ID              string               `db:"id"`
	Version         int64                `db:"version"`
	Login           string               `db:"login"`
	EmailChannel    sql.NullString       `db:"email_channel"`
	PhoneChannel    sql.NullString       `db:"phone_channel"`
	ChatChannel     sql.NullInt64        `db:"chat_channel"`
	OTPSecret       sql.NullString       `db:"otp_secret"`
	BindToken       sql.NullString       `db:"bind_token"`
	BindDestination entities.Destination `db:"bind_destination"`
	ResetToken      sql.NullString       `db:"reset_token"`
	CreatedAt       time.Time            `db:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at"`
}

const identityColumns = `id, version, login, email_channel, phone_channel, chat_channel,
		otp_secret, bind_token, bind_destination, reset_token, created_at, updated_at`

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (r *IdentityRepository) toEntity(row *identityRow) (*entities.Identity, error) {
	identity := &entities.Identity{
		ID:              row.ID,
		Version:         row.Version,
		Login:           row.Login,
		EmailChannel:    stringPtr(row.EmailChannel),
		PhoneChannel:    stringPtr(row.PhoneChannel),
		BindToken:       stringPtr(row.BindToken),
		BindDestination: row.BindDestination,
		ResetToken:      stringPtr(row.ResetToken),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ChatChannel.Valid {
		chat := row.ChatChannel.Int64
		identity.ChatChannel = &chat
	}
	if row.OTPSecret.Valid {
		secret, err := r.box.Open(row.OTPSecret.String)
		if err != nil {
			return nil, fmt.Errorf("failed to open otp secret for %s: %w", row.Login, err)
		}
		identity.OTPSecret = &secret
	}
	if row.BindToken.Valid && row.BindDestination == entities.DestinationOTP {
		pending, err := r.box.Open(row.BindToken.String)
		if err != nil {
			return nil, fmt.Errorf("failed to open pending otp secret for %s: %w", row.Login, err)
		}
		identity.BindToken = &pending
	}
	return identity, nil
}

func (r *IdentityRepository) fromEntity(identity *entities.Identity) (*identityRow, error) {
	row := &identityRow{
		ID:              identity.ID,
		Version:         identity.Version,
		Login:           identity.Login,
		EmailChannel:    nullString(identity.EmailChannel),
		PhoneChannel:    nullString(identity.PhoneChannel),
		BindToken:       nullString(identity.BindToken),
		BindDestination: identity.BindDestination,
		ResetToken:      nullString(identity.ResetToken),
		CreatedAt:       identity.CreatedAt,
		UpdatedAt:       identity.UpdatedAt,
	}
	if identity.ChatChannel != nil {
		row.ChatChannel = sql.NullInt64{Int64: *identity.ChatChannel, Valid: true}
	}
	if identity.OTPSecret != nil {
		sealed, err := r.box.Seal(*identity.OTPSecret)
		if err != nil {
			return nil, err
		}
		row.OTPSecret = sql.NullString{String: sealed, Valid: true}
	}
	// during otp enrollment the bind slot holds the secret itself
	if identity.BindToken != nil && identity.BindDestination == entities.DestinationOTP {
		sealed, err := r.box.Seal(*identity.BindToken)
		if err != nil {
			return nil, err
		}
		row.BindToken = sql.NullString{String: sealed, Valid: true}
	}
	return row, nil
}

// mapWriteError turns constraint violations into repository errors
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "identities_chat_channel_key" {
		return repositories.ErrChatAlreadyBound
	}
	return err
}

// Create inserts a new identity
func (r *IdentityRepository) Create(ctx context.Context, identity *entities.Identity) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("identity", "create", time.Since(start), err)
	}()

	if identity.ID == "" {
		identity.ID = idgen.GenerateID()
	}
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1

	row, err := r.fromEntity(identity)
	if err != nil {
		identity.ID = ""
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	r.log.Debug("creating identity",
		slog.String("id", identity.ID),
		slog.String("login", identity.Login))

	query := `INSERT INTO identities (` + identityColumns + `) VALUES (
			:id, :version, :login, :email_channel, :phone_channel, :chat_channel,
			:otp_secret, :bind_token, :bind_destination, :reset_token, :created_at, :updated_at
		)`

	_, err = r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		identity.ID = ""
		identity.Version = 0
		err = mapWriteError(err)
		if errors.Is(err, repositories.ErrChatAlreadyBound) {
			return err
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return nil
}

// GetByLogin retrieves an identity by its canonical login
func (r *IdentityRepository) GetByLogin(ctx context.Context, login string) (*entities.Identity, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("identity", "get_by_login", time.Since(start), err)
	}()

	var row identityRow
	query := `SELECT ` + identityColumns + ` FROM identities WHERE login = $1`

	err = r.db.GetContext(ctx, &row, query, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrIdentityNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by login: %w", err)
	}

	return r.toEntity(&row)
}

// GetByChat retrieves the identity bound to a chat id
func (r *IdentityRepository) GetByChat(ctx context.Context, chatID int64) (*entities.Identity, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("identity", "get_by_chat", time.Since(start), err)
	}()

	var row identityRow
	query := `SELECT ` + identityColumns + ` FROM identities WHERE chat_channel = $1`

	err = r.db.GetContext(ctx, &row, query, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrIdentityNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by chat: %w", err)
	}

	return r.toEntity(&row)
}

// Update writes the identity back if nobody else changed it since it was read
func (r *IdentityRepository) Update(ctx context.Context, identity *entities.Identity) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("identity", "update", time.Since(start), err)
	}()

	row, err := r.fromEntity(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	row.UpdatedAt = time.Now()

	query := `UPDATE identities SET
			version = version + 1,
			email_channel = :email_channel,
			phone_channel = :phone_channel,
			chat_channel = :chat_channel,
			otp_secret = :otp_secret,
			bind_token = :bind_token,
			bind_destination = :bind_destination,
			reset_token = :reset_token,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		err = mapWriteError(err)
		if errors.Is(err, repositories.ErrChatAlreadyBound) {
			return err
		}
		return fmt.Errorf("failed to update identity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warn("identity update lost a race",
			slog.String("id", identity.ID),
			slog.String("login", identity.Login),
			slog.Int64("version", identity.Version))
		err = repositories.ErrVersionConflict
		return err
	}

	identity.Version++
	identity.UpdatedAt = row.UpdatedAt
	return nil
}
