// Package migrations has the SQLite schema of the task history.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/ocrtrack/internal/log"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// DefaultVersionTable is where the applied history schema version is tracked.
const DefaultVersionTable = "history_migrations"

// ErrDirtySchema is returned when a previous migration was left half applied.
// The database needs a manual fix (or to be removed) before using it again.
var ErrDirtySchema = errors.New("history schema is dirty")

// SchemaConfig is the configuration of the history schema.
type SchemaConfig struct {
	DB           *sql.DB
	VersionTable string
	Logger       log.Logger
}

func (c *SchemaConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}

	if c.VersionTable == "" {
		c.VersionTable = DefaultVersionTable
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.sqlite.Schema"})

	return nil
}

// Schema migrates the task history database to the schema embedded in the binary.
type Schema struct {
	db           *sql.DB
	versionTable string
	logger       log.Logger
}

// NewSchema returns the history schema of a database.
func NewSchema(cfg SchemaConfig) (*Schema, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Schema{
		db:           cfg.DB,
		versionTable: cfg.VersionTable,
		logger:       cfg.Logger,
	}, nil
}

// Version returns the applied schema version, 0 on a new database.
func (s *Schema) Version(ctx context.Context) (uint, error) {
	var version uint
	err := s.run(ctx, func(m *migrate.Migrate) error {
		v, err := currentVersion(m)
		version = v
		return err
	})
	return version, err
}

// Migrate applies the pending migrations and returns the resulting version.
// Cancelling ctx stops after the migration in progress.
func (s *Schema) Migrate(ctx context.Context) (uint, error) {
	var version uint
	err := s.run(ctx, func(m *migrate.Migrate) error {
		from, err := currentVersion(m)
		if err != nil {
			return err
		}

		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not apply migrations: %w", err)
		}

		version, err = currentVersion(m)
		if err != nil {
			return err
		}

		if version == from {
			s.logger.Debugf("History schema is up to date at version %d", version)
		} else {
			s.logger.Infof("History schema migrated from version %d to %d", from, version)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return version, nil
}

// Reset reverts every migration, removing the history data.
func (s *Schema) Reset(ctx context.Context) error {
	return s.run(ctx, func(m *migrate.Migrate) error {
		err := m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not revert migrations: %w", err)
		}

		s.logger.Debugf("History schema reset")
		return nil
	})
}

// run executes fn with a migrate instance bound to ctx. The instance is not
// closed as a whole, that would close the shared database.
func (s *Schema) run(ctx context.Context, fn func(m *migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{MigrationsTable: s.versionTable})
	if err != nil {
		return fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(schemaFiles, "sql")
	if err != nil {
		return fmt.Errorf("could not read embedded schema: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warningf("could not close embedded schema: %s", err)
		}
	}()

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := fn(m); err != nil {
		return err
	}

	// A graceful stop is not an error for migrate.
	return ctx.Err()
}

func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("could not get schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("version %d: %w", version, ErrDirtySchema)
	}

	return version, nil
}
