package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the durable credential and tenant-data store: organizations,
// users, projects, API keys, and audit entries. It runs on embedded SQLite
// by default and supports PostgreSQL and MySQL for shared deployments.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the backing database and applies migrations. Supported
// drivers are "sqlite" (default), "postgres" (pgx), and "mysql". For sqlite,
// an empty dsn opens an in-memory database, which is what the tests use.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}

	var db *sqlx.DB
	var err error

	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else if !strings.Contains(dsn, "?") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create data dir: %w", err)
				}
			}
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
			if _, perr := db.Exec("PRAGMA foreign_keys = ON"); perr != nil {
				return nil, fmt.Errorf("enable foreign keys: %w", perr)
			}
		}
	case "postgres":
		db, err = sqlx.Connect("pgx", dsn)
	case "mysql":
		db, err = sqlx.Connect("mysql", dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts ?-style placeholders to the driver's bindvar form.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// isDuplicateErr reports whether err is a uniqueness violation, across the
// three supported drivers.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
