// Package database implements the kernel's persistence behind sqlx. The
// default backend is an embedded sqlite file; mysql and postgres DSNs are
// accepted for deployments that already run a server. The kernel consumes
// narrow per-package interfaces, never this type directly, so the backend
// stays swappable.
package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	// Database drivers selected by DSN scheme.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the connection pool with the kernel's table operations.
type DB struct {
	db *sqlx.DB
}

// Open connects to the given DSN and ensures the schema exists.
//
//	synapd.db              sqlite file (default)
//	:memory:               in-memory sqlite (tests)
//	mysql://user:pw@/db    MySQL
//	postgres://…           PostgreSQL
func Open(dsn string) (*DB, error) {
	driver, source := resolveDriver(dsn)

	db, err := sqlx.Connect(driver, source)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == "sqlite3" {
		// Serialize writers; sqlite handles one at a time anyway.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &DB{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func resolveDriver(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	default:
		return "sqlite3", dsn
	}
}

// Close releases the connection pool.
func (s *DB) Close() error { return s.db.Close() }

// rebind adapts ? placeholders to the active driver.
func (s *DB) rebind(query string) string { return s.db.Rebind(query) }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS plugin_settings (
		plugin_id           TEXT PRIMARY KEY,
		is_active           INTEGER NOT NULL DEFAULT 1,
		allowed_permissions TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS plugin_configs (
		plugin_id    TEXT NOT NULL,
		config_key   TEXT NOT NULL,
		config_value TEXT NOT NULL,
		PRIMARY KEY (plugin_id, config_key)
	)`,
	`CREATE TABLE IF NOT EXISTS plugin_data (
		plugin_id TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     TEXT NOT NULL,
		PRIMARY KEY (plugin_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS permission_requests (
		id         TEXT PRIMARY KEY,
		plugin_id  TEXT NOT NULL,
		permission TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		actor_id   TEXT,
		created_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id         TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		subject    TEXT NOT NULL,
		detail     TEXT,
		actor      TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL,
		description           TEXT,
		status                TEXT NOT NULL DEFAULT 'online',
		default_engine_id     TEXT,
		required_capabilities TEXT NOT NULL DEFAULT '[]',
		metadata              TEXT NOT NULL DEFAULT '{}',
		enabled               INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS cron_jobs (
		id         TEXT PRIMARY KEY,
		schedule   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}',
		enabled    INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS api_tokens (
		id         TEXT PRIMARY KEY,
		label      TEXT NOT NULL,
		token_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP
	)`,
}

func (s *DB) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
