package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
)

func newTestManager(t *testing.T, source fstest.MapFS) (*Manager, *SQLiteExecutor) {
	t.Helper()

	db, err := Open(InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	executor := NewSQLiteExecutor(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(NewFileScanner(source, "."), executor, logger), executor
}

func TestManager_RunMigrations(t *testing.T) {
	t.Parallel()

	t.Run("applies pending migrations once", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{
			"001_first.sql":  {Data: []byte("CREATE TABLE first (id TEXT PRIMARY KEY);")},
			"002_second.sql": {Data: []byte("CREATE TABLE second (id TEXT PRIMARY KEY);\nINSERT INTO second (id) VALUES ('x');")},
		}
		manager, executor := newTestManager(t, source)
		ctx := context.Background()

		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("RunMigrations returned error: %v", err)
		}
		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("second RunMigrations returned error: %v", err)
		}

		applied, err := executor.GetAppliedVersions(ctx)
		if err != nil {
			t.Fatalf("GetAppliedVersions returned error: %v", err)
		}
		if len(applied) != 2 || applied[0].Version != "001" || applied[1].Version != "002" {
			t.Fatalf("unexpected applied migrations: %+v", applied)
		}

		status, err := manager.Status(ctx)
		if err != nil {
			t.Fatalf("Status returned error: %v", err)
		}
		if status.CurrentVersion != "002" || len(status.PendingMigrations) != 0 {
			t.Fatalf("unexpected status: %+v", status)
		}
	})

	t.Run("rolls back a failing migration", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{
			"001_broken.sql": {Data: []byte("CREATE TABLE ok (id TEXT);\nCREATE TABLE broken (;")},
		}
		manager, executor := newTestManager(t, source)
		ctx := context.Background()

		err := manager.RunMigrations(ctx)
		if !errors.Is(err, ErrMigrationFailed) {
			t.Fatalf("expected ErrMigrationFailed, got %v", err)
		}

		applied, err := executor.GetAppliedVersions(ctx)
		if err != nil {
			t.Fatalf("GetAppliedVersions returned error: %v", err)
		}
		if len(applied) != 0 {
			t.Fatalf("expected no applied migrations, got %+v", applied)
		}
		if _, err := executor.db.ExecContext(ctx, "INSERT INTO ok (id) VALUES ('x')"); err == nil {
			t.Fatalf("expected table from failed migration to be rolled back")
		}
	})

	t.Run("detects edited migrations", func(t *testing.T) {
		t.Parallel()

		source := fstest.MapFS{"001_first.sql": {Data: []byte("CREATE TABLE first (id TEXT);")}}
		manager, _ := newTestManager(t, source)
		ctx := context.Background()
		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("RunMigrations returned error: %v", err)
		}

		source["001_first.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE first (id TEXT, extra TEXT);")}
		if _, err := manager.Status(ctx); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}
	})
}
