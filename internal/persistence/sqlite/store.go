// Package sqlite implements the roster store on SQLite through modernc.org/sqlite.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	timestampLayout = time.RFC3339Nano
	dateLayout      = time.DateOnly
	clockLayout     = "15:04"
)

// Options configures Open.
type Options struct {
	Config migration.SQLiteConfig
	// Location is the zone session dates are stored in. Defaults to UTC.
	Location *time.Location
	Retry    RetryConfig
	Logger   *slog.Logger
}

// Store implements persistence.Store on a SQLite database.
type Store struct {
	*SessionRepository
	*PersonRepository
	*RosterRepository
	*SettingsRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database described by opts. Call Migrate before use on
// a fresh database.
func Open(opts Options) (*Store, error) {
	pool, err := NewConnectionPool(opts.Config)
	if err != nil {
		return nil, err
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mapper := NewErrorMapper()
	return &Store{
		SessionRepository:  &SessionRepository{pool: pool, mapper: mapper, location: loc},
		PersonRepository:   &PersonRepository{pool: pool, mapper: mapper},
		RosterRepository:   &RosterRepository{pool: pool, mapper: mapper, retry: NewRetryHelper(retry)},
		SettingsRepository: &SettingsRepository{pool: pool, mapper: mapper},
		pool:               pool,
		logger:             logger.With("component", "sqlite_store"),
	}, nil
}

// Migrate applies every embedded migration that has not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
