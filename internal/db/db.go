// Package db provides the on-device SQLite Entity Store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "crafttrack.db"

// DB wraps the sql.DB with CraftTrack-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database inside dataDir and applies
// pending migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens the database at dsn (":memory:" is accepted) with:
// - a single connection, since SQLite has one writer
// - WAL journaling for file-backed databases
// - the embedded schema migrated to the latest version
func OpenPath(dsn string) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if dsn != ":memory:" {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := NewMigrator(sqlDB, Migrations()).Up(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
