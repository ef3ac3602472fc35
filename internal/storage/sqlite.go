package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the text format used for every timestamp column. It is fixed
// width so text comparison in SQL orders correctly for UTC values.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens (and creates if needed) the courier state database at path
// and ensures the grant, registration and activation tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := checkLocalFilesystem(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers are serialized in-process; one connection keeps :memory: coherent too.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scope_grants (
  identity   TEXT NOT NULL,
  scope      TEXT NOT NULL,
  granted_at TEXT NOT NULL,
  PRIMARY KEY (identity, scope)
);`,
		`CREATE TABLE IF NOT EXISTS background_registrations (
  id               TEXT PRIMARY KEY,
  name             TEXT NOT NULL,
  trigger          TEXT NOT NULL,
  fingerprint      TEXT NOT NULL,
  requires_network INTEGER NOT NULL DEFAULT 0,
  registered_at    TEXT NOT NULL,
  last_fired_at    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS activation_log (
  id           TEXT PRIMARY KEY,
  kind         TEXT NOT NULL,
  name         TEXT NOT NULL,
  identity     TEXT,
  status       TEXT NOT NULL,
  error        TEXT,
  started_at   TEXT NOT NULL,
  completed_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS background_registrations_name_idx ON background_registrations(name);`,
		`CREATE INDEX IF NOT EXISTS activation_log_started_at_idx ON activation_log(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
