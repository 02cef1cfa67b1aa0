package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/fourheat-core/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_readings.up.sql":   {Data: []byte("CREATE TABLE readings (id INTEGER PRIMARY KEY, value REAL NOT NULL);")},
		"20260101_000000_readings.down.sql": {Data: []byte("DROP TABLE readings;")},
		"20260102_000000_labels.up.sql":     {Data: []byte("CREATE TABLE labels (id INTEGER PRIMARY KEY, name TEXT);")},
		"20260103_000000_orphan.down.sql":   {Data: []byte("DROP TABLE nothing;")},
		"README.md":                         {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := testMigrations()

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "readings") || !tableExists(t, db, "labels") {
		t.Fatal("migrations did not create both tables")
	}

	applied, pending, err := db.MigrationStatus(ctx, source)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBackOnlyThatMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE broken (;")},
	}

	if err := db.Migrate(ctx, source); err == nil {
		t.Fatal("Migrate() = nil, want error")
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration was not kept")
	}

	_, pending, err := db.MigrationStatus(ctx, source)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("pending = %+v, want only the failed migration", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := fstest.MapFS{
		"20260101_000000_readings.up.sql":   {Data: []byte("CREATE TABLE readings (id INTEGER);")},
		"20260101_000000_readings.down.sql": {Data: []byte("DROP TABLE readings;")},
	}

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, source); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "readings") {
		t.Error("table still present after MigrateDown")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, source); err != nil {
		t.Errorf("MigrateDown() on empty history = %v", err)
	}
}

func TestMigrateDown_WithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := fstest.MapFS{
		"20260102_000000_labels.up.sql": {Data: []byte("CREATE TABLE labels (id INTEGER);")},
	}

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, source); err == nil {
		t.Error("MigrateDown() = nil, want error for missing down SQL")
	}
}

func TestMigrate_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(migrations.FS) error = %v", err)
	}
	if !tableExists(t, db, "state_history") {
		t.Error("state_history table not created")
	}
	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		t.Fatalf("MigrateDown(migrations.FS) error = %v", err)
	}
	if tableExists(t, db, "state_history") {
		t.Error("state_history still present after rollback")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260301_090000_state_history.up.sql", "20260301_090000", "state_history", true, true},
		{"20260301_090000_state_history.down.sql", "20260301_090000", "state_history", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"20260301_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"single.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || up != tt.up {
				t.Fatalf("parseMigrationFilename(%q) = %q, %q, %v, %v", tt.filename, version, name, up, ok)
			}
			if ok && name != tt.name {
				t.Errorf("name = %q, want %q", name, tt.name)
			}
		})
	}
}

func TestLoadMigrations_NilSource(t *testing.T) {
	got, err := loadMigrations(nil)
	if err != nil || got != nil {
		t.Errorf("loadMigrations(nil) = %v, %v", got, err)
	}
}
