// Package app assembles the store, the directory and the services shared by the
// passgate binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/infrastructure/database/memory"
	"github.com/devilmonastery/passgate/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/passgate/internal/infrastructure/ldap"
	"github.com/devilmonastery/passgate/internal/infrastructure/mail"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/secretbox"
	"github.com/devilmonastery/passgate/migrations"
)

// ErrNoDatabase is returned for database-only operations on the memory driver
var ErrNoDatabase = errors.New("no database configured (driver is memory)")

// Options control how a Runtime is opened
type Options struct {
	// NodeID is the snowflake node of this binary, see idgen
	NodeID int64
	// Migrate applies pending migrations after connecting
	Migrate bool
	// Directory is used instead of the configured LDAP server when set
	Directory directory.Directory
}

// Runtime holds what every binary needs
type Runtime struct {
	Config       *config.Config
	Repositories *repositories.Repositories
	Directory    directory.Directory

	conn   *postgres.Connection
	store  repositories.HealthChecker // nil on the memory driver
	logger *slog.Logger
}

var (
	_ repositories.HealthChecker = (*postgres.Connection)(nil)
	_ repositories.HealthChecker = (*Runtime)(nil)
)

// Open connects the store and the directory described by cfg
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	logger := slog.Default().With(slog.String("component", "app"))

	if err := idgen.Initialize(opts.NodeID); err != nil {
		return nil, fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	rt := &Runtime{
		Config:    cfg,
		Directory: opts.Directory,
		logger:    logger,
	}
	if rt.Directory == nil {
		rt.Directory = ldap.New(cfg.Directory)
	}

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, nothing will survive a restart")
		rt.Repositories = memory.New()

	default:
		box, err := secretbox.NewFromBase64(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid security.encryption_key: %w", err)
		}
		if box == nil {
			logger.Warn("security.encryption_key not set, otp secrets are stored unsealed")
		}

		logger.Info("connecting to PostgreSQL",
			slog.String("user", cfg.Database.Postgres.User),
			slog.String("host", cfg.Database.Postgres.Host),
			slog.String("database", cfg.Database.Postgres.Database))

		conn, err := connect(ctx, cfg.Database.Postgres.ConnectionString(), logger)
		if err != nil {
			return nil, err
		}
		rt.conn = conn
		rt.store = conn

		if opts.Migrate {
			if err := conn.RunMigrations(migrations.FS); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
			}
		}

		rt.Repositories = &repositories.Repositories{
			Identities: postgres.NewIdentityRepository(conn.DB, box),
			Sessions:   postgres.NewSessionRepository(conn.DB),
			Audit:      postgres.NewAuditRepository(conn.DB),
		}
	}

	return rt, nil
}

// connect retries with exponential backoff; the database often starts after us
func connect(ctx context.Context, dsn string, logger *slog.Logger) (*postgres.Connection, error) {
	const maxRetries = 10
	retryDelay := 2 * time.Second

	for i := 0; ; i++ {
		conn, err := postgres.NewConnection(dsn)
		if err == nil {
			logger.Info("connected to PostgreSQL")
			return conn, nil
		}
		if i == maxRetries-1 {
			return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
		}

		logger.Warn("failed to connect to PostgreSQL",
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.String("error", err.Error()),
			slog.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
}

// Services builds the domain services. chat may be nil where no bot client exists.
func (r *Runtime) Services(chat services.Messenger) *services.Services {
	d := services.Deps{
		Config:       r.Config,
		Directory:    r.Directory,
		Repositories: r.Repositories,
		Chat:         chat,
	}
	if r.Config.SMTP.Enabled {
		d.Email = mail.NewSender(r.Config.SMTP).WithSubject("Your " + r.Config.OTP.Issuer + " account")
	}
	return services.New(d)
}

// Database returns the PostgreSQL connection, or ErrNoDatabase on the memory driver
func (r *Runtime) Database() (*postgres.Connection, error) {
	if r.conn == nil {
		return nil, ErrNoDatabase
	}
	return r.conn, nil
}

// HealthCheck pings the store. The memory driver is always healthy.
func (r *Runtime) HealthCheck(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.HealthCheck(ctx)
}

// Close releases the database connection
func (r *Runtime) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
