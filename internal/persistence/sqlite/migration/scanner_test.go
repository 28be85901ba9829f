package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestFileScanner_ScanMigrations(t *testing.T) {
	t.Parallel()

	t.Run("orders by numeric version and reads descriptions", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{
			"sql/010_add_index.sql":      {Data: []byte("CREATE INDEX idx ON t(a);")},
			"sql/002_second.sql":         {Data: []byte("-- Description: Second step\nCREATE TABLE b (id TEXT);")},
			"sql/001_initial_schema.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
			"sql/README.md":              {Data: []byte("ignored")},
		}

		migrations, err := NewFileScanner(source, "sql").ScanMigrations()
		if err != nil {
			t.Fatalf("ScanMigrations returned error: %v", err)
		}
		if len(migrations) != 3 {
			t.Fatalf("expected 3 migrations, got %d", len(migrations))
		}
		for i, want := range []string{"001", "002", "010"} {
			if migrations[i].Version != want {
				t.Fatalf("expected version %s at %d, got %s", want, i, migrations[i].Version)
			}
		}
		if migrations[0].Description != "initial schema" {
			t.Fatalf("expected filename description, got %q", migrations[0].Description)
		}
		if migrations[1].Description != "Second step" {
			t.Fatalf("expected header description, got %q", migrations[1].Description)
		}
		if migrations[0].Checksum == "" {
			t.Fatalf("expected checksum to be populated")
		}
	})

	t.Run("rejects badly named files", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{"bad-name.sql": {Data: []byte("SELECT 1;")}}
		_, err := NewFileScanner(source, ".").ScanMigrations()
		if !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"1_b.sql":   {Data: []byte("SELECT 1;")},
		}
		_, err := NewFileScanner(source, ".").ScanMigrations()
		if err == nil {
			t.Fatalf("expected duplicate detection to fail")
		}
	})

	t.Run("rejects comment-only files", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{"001_empty.sql": {Data: []byte("-- nothing here\n")}}
		_, err := NewFileScanner(source, ".").ScanMigrations()
		if !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (id TEXT);\n\n-- note\nCREATE TABLE b (id TEXT);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE TABLE b (id TEXT)" {
		t.Fatalf("unexpected second statement %q", got[1])
	}
}
