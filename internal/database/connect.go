// Package database opens and checks the server's database connections.
package database

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/R3E-Network/straight_server/internal/config"
)

// Driver names registered by the imported drivers.
const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

const connectTimeout = 5 * time.Second

// DSN returns the driver name and data source for cfg. Relative sqlite names are
// resolved inside baseDir.
func DSN(cfg config.DatabaseConfig, baseDir string) (string, string, error) {
	switch cfg.Adapter {
	case config.AdapterSQLite:
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return "", "", fmt.Errorf("sqlite database name not configured")
		}
		if name != ":memory:" && !filepath.IsAbs(name) {
			name = filepath.Join(baseDir, name)
		}
		return driverSQLite, name + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	case config.AdapterPostgres:
		if cfg.Host == "" || cfg.Name == "" {
			return "", "", fmt.Errorf("postgres host and name are required")
		}
		parts := []string{
			"host=" + pqQuote(cfg.Host),
			"dbname=" + pqQuote(cfg.Name),
		}
		if cfg.Port > 0 {
			parts = append(parts, fmt.Sprintf("port=%d", cfg.Port))
		}
		if cfg.User != "" {
			parts = append(parts, "user="+pqQuote(cfg.User))
		}
		if cfg.Password != "" {
			parts = append(parts, "password="+pqQuote(cfg.Password))
		}
		if cfg.SSLMode != "" {
			parts = append(parts, "sslmode="+pqQuote(cfg.SSLMode))
		}
		return driverPostgres, strings.Join(parts, " "), nil
	case "":
		return "", "", fmt.Errorf("database adapter not configured")
	default:
		return "", "", fmt.Errorf("unsupported database adapter %q", cfg.Adapter)
	}
}

// Connect opens a connection pool for cfg and verifies it with a round-trip query.
func Connect(ctx context.Context, cfg config.DatabaseConfig, baseDir string) (*sqlx.DB, error) {
	driver, dsn, err := DSN(cfg, baseDir)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Adapter, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	if err := Check(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s database: %w", cfg.Adapter, err)
	}
	return db, nil
}

// Check performs the liveness round-trip: SELECT 1 must return 1.
func Check(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database handle is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var one int
	if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("liveness query returned %d", one)
	}
	return nil
}

// Alive reports whether Check succeeds.
func Alive(ctx context.Context, db *sqlx.DB) bool {
	return Check(ctx, db) == nil
}

func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
