// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, fstest.MapFS{})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64)); err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		2, 123456, "bad_checksum", "short"); err == nil {
		t.Error("checksum length constraint not enforced")
	}
}

// TestUp_ordersAndSkips verifies versions apply in order exactly once.
func TestUp_ordersAndSkips(t *testing.T) {
	db := openRaw(t)
	files := fstest.MapFS{
		"V2__add_color.up.sql":   {Data: []byte(`ALTER TABLE widgets ADD COLUMN color TEXT;`)},
		"V1__widgets.up.sql":     {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"V1__widgets.down.sql":   {Data: []byte(`DROP TABLE widgets;`)},
		"V2__add_color.down.sql": {Data: []byte(`ALTER TABLE widgets DROP COLUMN color;`)},
		"README.md":              {Data: []byte(`ignored`)},
		"Vx__broken.up.sql":      {Data: []byte(`not sql`)},
	}
	m := NewMigrator(db, files)

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if v, _ := m.CurrentVersion(); v != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", v)
	}
	if err := m.Up(); err != nil {
		t.Errorf("second Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "widgets" || applied[1].Description != "add_color" {
		t.Errorf("applied = %+v", applied)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum = %q", applied[0].Checksum)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if v, _ := m.CurrentVersion(); v != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", v)
	}
}

// TestUp_failureIsMigrationError verifies broken SQL is reported with a code.
func TestUp_failureIsMigrationError(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, fstest.MapFS{
		"V1__broken.up.sql": {Data: []byte(`CREATE TABLE (`)},
	})
	err := m.Up()
	if err == nil {
		t.Fatal("Up() with broken SQL should fail")
	}
	if !strings.Contains(err.Error(), "MIGRATION_FAILED") {
		t.Errorf("error = %v, want MIGRATION_FAILED", err)
	}
	if v, _ := m.CurrentVersion(); v != 0 {
		t.Errorf("failed migration recorded, version = %d", v)
	}
}

// TestUp_detectsEditedMigration verifies an applied file cannot change.
func TestUp_detectsEditedMigration(t *testing.T) {
	db := openRaw(t)
	files := fstest.MapFS{
		"V1__widgets.up.sql": {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
	}
	if err := NewMigrator(db, files).Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	files["V1__widgets.up.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT);`)}
	err := NewMigrator(db, files).Up()
	if err == nil || !strings.Contains(err.Error(), "changed after it was applied") {
		t.Errorf("Up() error = %v, want edited migration error", err)
	}
}

// TestDown_noMigrations verifies error when no migrations to rollback.
func TestDown_noMigrations(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, fstest.MapFS{})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	err := m.Down()
	if err == nil || !strings.Contains(err.Error(), "no migrations to rollback") {
		t.Errorf("Down() error = %v, want 'no migrations to rollback'", err)
	}
}

// TestMigrations_embedded verifies the shipped schema round-trips.
func TestMigrations_embedded(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, Migrations())
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='projects'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("projects table survived Down()")
	}
}
