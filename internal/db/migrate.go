package db

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err) // embedded path is fixed at build time
	}
	return sub
}

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator handles database schema migrations.
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator creates a new Migrator reading V<n>__<name>.{up,down}.sql
// files from files.
func NewMigrator(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		migrations = append(migrations, mig)
	}
	return migrations, rows.Err()
}

type migrationFile struct {
	version int
	name    string
}

// list returns migration files with the given suffix ordered by version.
func (m *Migrator) list(suffix string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		// V1__initial_schema.up.sql
		parts := strings.SplitN(strings.TrimSuffix(name, suffix), "__", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: version, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// Up applies all pending migrations. An applied migration whose file no
// longer matches its recorded checksum stops the run.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return errors.Wrap(errors.ErrMigration, "initialize schema_migrations", err)
	}
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "read applied migrations", err)
	}
	recorded := make(map[int]string, len(applied))
	for _, mig := range applied {
		recorded[mig.Version] = mig.Checksum
	}

	files, err := m.list(".up.sql")
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "list migrations", err)
	}
	for _, f := range files {
		content, err := fs.ReadFile(m.files, f.name)
		if err != nil {
			return errors.Wrap(errors.ErrMigration, "read "+f.name, err)
		}
		sum := checksum(content)
		if prev, ok := recorded[f.version]; ok {
			if prev != sum {
				return errors.Newf(errors.ErrMigration, "migration V%d changed after it was applied", f.version)
			}
			continue
		}
		description := strings.TrimPrefix(strings.TrimSuffix(f.name, ".up.sql"), fmt.Sprintf("V%d__", f.version))
		err = m.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(content)); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			_, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at, description, checksum)
				VALUES (?, ?, ?, ?)`, f.version, time.Now().Unix(), description, sum)
			return err
		})
		if err != nil {
			return errors.Wrap(errors.ErrMigration, fmt.Sprintf("apply migration V%d", f.version), err)
		}
	}
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New(errors.ErrMigration, "no migrations to rollback")
	}

	matches, err := fs.Glob(m.files, fmt.Sprintf("V%d__*.down.sql", current))
	if err != nil {
		return fmt.Errorf("failed to search for rollback migration: %w", err)
	}
	if len(matches) == 0 {
		return errors.Newf(errors.ErrMigration, "no rollback migration found for version %d", current)
	}
	content, err := fs.ReadFile(m.files, path.Clean(matches[0]))
	if err != nil {
		return fmt.Errorf("failed to read rollback migration: %w", err)
	}

	return m.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute rollback SQL: %w", err)
		}
		_, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current)
		return err
	})
}

func (m *Migrator) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
