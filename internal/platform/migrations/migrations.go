// Package migrations applies schema migrations to the server database.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/straight_server/internal/config"
)

//go:embed sql/*.sql
var embedded embed.FS

// Source locates a set of migration files.
type Source struct {
	FS  fs.FS
	Dir string
}

// Embedded returns the migrations bundled with the server.
func Embedded() Source {
	return Source{FS: embedded, Dir: "sql"}
}

// FromDir reads migrations from a directory on disk.
func FromDir(dir string) Source {
	return Source{FS: os.DirFS(dir), Dir: "."}
}

// Runner applies pending migrations.
type Runner interface {
	Apply(ctx context.Context, db *sqlx.DB, src Source) error
}

// Engine is the golang-migrate backed Runner.
type Engine struct {
	adapter string
	log     logrus.FieldLogger
}

var _ Runner = (*Engine)(nil)

// NewEngine returns an Engine for the given database adapter.
func NewEngine(adapter string, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{adapter: adapter, log: log}
}

// Apply runs every pending up migration from src. It does not close db.
func (e *Engine) Apply(ctx context.Context, db *sqlx.DB, src Source) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if src.FS == nil {
		return fmt.Errorf("migration source is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sourceDriver, err := iofs.New(src.FS, src.Dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	defer sourceDriver.Close()

	dbDriver, err := e.databaseDriver(db)
	if err != nil {
		return err
	}

	// Migrate.Close would also close the shared handle, so only the source is closed.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, e.adapter, dbDriver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		e.log.Debug("database schema is up to date")
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	e.log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("database schema migrated")
	return nil
}

func (e *Engine) databaseDriver(db *sqlx.DB) (migratedb.Driver, error) {
	var (
		driver migratedb.Driver
		err    error
	)
	switch e.adapter {
	case config.AdapterSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case config.AdapterPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for adapter %q", e.adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s migration driver: %w", e.adapter, err)
	}
	return driver, nil
}
