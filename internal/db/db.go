package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/switchboard/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite database at baseDir/switchboard.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.switchboard.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, "switchboard.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: catalog and channels
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS channels (
		  id         TEXT PRIMARY KEY,
		  name       TEXT NOT NULL,
		  kind       TEXT NOT NULL,
		  enabled    INTEGER NOT NULL DEFAULT 1,
		  created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS capabilities (
		  id                      TEXT PRIMARY KEY,
		  name                    TEXT NOT NULL,
		  description             TEXT,
		  notification_channel_id TEXT,
		  created_at              INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_channels_enabled
		ON channels(enabled, name);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: capability links (hard-deleted on deactivation)
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS capability_links (
		  id                      TEXT PRIMARY KEY,
		  capability_id           TEXT NOT NULL REFERENCES capabilities(id),
		  assistant_id            TEXT NOT NULL,
		  notification_channel_id TEXT NOT NULL,
		  enabled                 INTEGER NOT NULL DEFAULT 1,
		  channel_enabled         INTEGER NOT NULL DEFAULT 1,
		  created_at              INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_links_assistant_capability
		ON capability_links(assistant_id, capability_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
