package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/memory"
	"github.com/example/session-roster/internal/persistence/sqlite"
	"github.com/example/session-roster/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides a migrated store backed by a temporary SQLite file for
// integration-style persistence tests.
type SQLiteHarness struct {
	Store *sqlite.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "roster.db")
	store, err := sqlite.Open(sqlite.Options{
		Config:   migration.TempFileTestSQLiteConfig(path),
		Location: time.UTC,
	})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: store,
		cleanup: func() {
			_ = store.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// StoreFactory opens an empty store for one test.
type StoreFactory func(tb testing.TB) persistence.Store

// Stores lists every store implementation so contract tests can run against
// each of them.
func Stores() map[string]StoreFactory {
	return map[string]StoreFactory{
		"memory": func(tb testing.TB) persistence.Store {
			return memory.New(time.UTC)
		},
		"sqlite": func(tb testing.TB) persistence.Store {
			return NewSQLiteHarness(tb).Store
		},
	}
}

// Seed writes sessions, people and entries into store, failing the test on the
// first error.
func Seed(tb testing.TB, store persistence.Store, sessions []SessionFixture, people []PersonFixture, entries []EntryFixture) {
	tb.Helper()
	ctx := context.Background()

	for _, s := range sessions {
		if err := store.CreateSession(ctx, s.Persistence()); err != nil {
			tb.Fatalf("seed session %s: %v", s.ID, err)
		}
	}
	for _, p := range people {
		if _, err := store.UpsertPerson(ctx, p.Persistence()); err != nil {
			tb.Fatalf("seed person %s: %v", p.ID, err)
		}
	}

	bySession := make(map[string][]persistence.RosterEntry)
	var order []string
	for _, e := range entries {
		if _, ok := bySession[e.SessionID]; !ok {
			order = append(order, e.SessionID)
		}
		bySession[e.SessionID] = append(bySession[e.SessionID], e.Persistence())
	}
	for _, sessionID := range order {
		change := persistence.RosterChange{SessionID: sessionID, Insert: bySession[sessionID]}
		if err := store.ApplyRosterChange(ctx, change); err != nil {
			tb.Fatalf("seed entries of %s: %v", sessionID, err)
		}
	}
}
