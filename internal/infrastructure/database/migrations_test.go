package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"20260102_000000_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"README.md":                       {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent.
	if err := db.Migrate(ctx, src); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()
	src["20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE ???")}

	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied=%d pending=%+v", len(applied), pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "second") {
		t.Error("latest migration not rolled back")
	}
	if !tableExists(t, db, "first") {
		t.Error("earlier migration rolled back too")
	}

	_, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "20260102_000000" {
		t.Errorf("pending = %+v, want second", pending)
	}
}

func TestMigrate_NilSource(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
	if err := db.MigrateDown(context.Background(), nil); err != nil {
		t.Errorf("MigrateDown(nil) with nothing applied error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name    string
		version string
		isUp    bool
		ok      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", true, true},
		{"20260118_120000_initial_schema.down.sql", "20260118_120000", false, true},
		{"20260118_120000.up.sql", "20260118_120000", true, true},
		{"20260118_120000_x.sql", "", false, false},
		{"notes.txt", "", false, false},
		{"single.up.sql", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, up, ok := parseMigrationFilename(tt.name)
			if v != tt.version || up != tt.isUp || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = %q, %v, %v; want %q, %v, %v",
					tt.name, v, up, ok, tt.version, tt.isUp, tt.ok)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20261018_120000_entity_state_history.up.sql":   "entity_state_history",
		"20261018_120000_entity_state_history.down.sql": "entity_state_history",
		"20261018_120000.up.sql":                        "20261018_120000",
	}
	for in, want := range tests {
		if got := extractMigrationName(in); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", in, got, want)
		}
	}
}
