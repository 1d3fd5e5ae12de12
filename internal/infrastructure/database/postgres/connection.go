package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connection manages PostgreSQL database connection
type Connection struct {
	DB  *sqlx.DB
	log *slog.Logger
}

// NewConnection creates a new PostgreSQL database connection.
// connectionString is a lib/pq DSN, see config.PostgresConfig.ConnectionString.
func NewConnection(connectionString string) (*Connection, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Two small binaries share the database; keep the pool modest
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{
		DB:  db,
		log: slog.Default().With(slog.String("component", "postgres")),
	}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}

// HealthCheck pings the database
func (c *Connection) HealthCheck(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// newMigrate builds a migrate instance over the postgres/ directory of migrationFS
func (c *Connection) newMigrate(migrationFS embed.FS) (*migrate.Migrate, error) {
	postgresMigrations, err := fs.Sub(migrationFS, "postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migrations sub-filesystem: %w", err)
	}

	source, err := iofs.New(postgresMigrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(c.DB.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations, recovering from a dirty state first
func (c *Connection) RunMigrations(migrationFS embed.FS) error {
	m, err := c.newMigrate(migrationFS)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		// An empty schema means the first migration never landed
		target := int(version)
		if c.isDatabaseEmpty() {
			target = 0
		}
		c.log.Warn("migration state dirty, forcing version",
			slog.Uint64("version", uint64(version)),
			slog.Int("target", target))
		if err := m.Force(target); err != nil {
			return fmt.Errorf("failed to force dirty migration to %d: %w", target, err)
		}
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if v, _, verr := m.Version(); verr == nil {
		c.log.Info("migrations applied", slog.Uint64("version", uint64(v)))
	}
	return nil
}

// isDatabaseEmpty checks if the database has no user tables
func (c *Connection) isDatabaseEmpty() bool {
	var count int
	query := `SELECT COUNT(*) FROM information_schema.tables
              WHERE table_schema = 'public'
              AND table_name NOT IN ('schema_migrations', 'schema_migration')`
	err := c.DB.Get(&count, query)
	return err == nil && count == 0
}

// ForceMigrationVersion forces the migration version to a specific number.
// Only for recovering from dirty migration states.
func (c *Connection) ForceMigrationVersion(migrationFS embed.FS, version int) error {
	m, err := c.newMigrate(migrationFS)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version %d: %w", version, err)
	}
	return nil
}
