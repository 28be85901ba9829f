package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager orchestrates scanning, ordering and executing migrations
type Manager struct {
	scanner  FileScanner
	executor Executor
	logger   *slog.Logger
}

// NewManager creates a migration manager; a nil logger falls back to slog.Default
func NewManager(scanner FileScanner, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// RunMigrations executes all pending migrations in sequential order
func (m *Manager) RunMigrations(ctx context.Context) error {
	start := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to resolve migration status", "error", err)
		return err
	}
	m.logger.InfoContext(ctx, "database schema version",
		"current_version", status.CurrentVersion,
		"pending", len(status.PendingMigrations),
	)

	for i, migration := range status.PendingMigrations {
		logger := m.logger.With("version", migration.Version, "file", migration.FilePath)
		logger.InfoContext(ctx, "executing migration",
			"description", migration.Description,
			"sequence", fmt.Sprintf("%d/%d", i+1, len(status.PendingMigrations)),
		)

		migrationStart := time.Now()
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		logger.InfoContext(ctx, "migration applied", "duration", time.Since(migrationStart))
	}

	if len(status.PendingMigrations) > 0 {
		m.logger.InfoContext(ctx, "database migrations completed",
			"applied", len(status.PendingMigrations),
			"duration", time.Since(start),
		)
	}
	return nil
}

// Status compares the migration files with the schema_migrations table
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, fmt.Errorf("failed to initialize version table: %w", err)
	}

	available, err := m.scanner.ScanMigrations()
	if err != nil {
		return Status{}, fmt.Errorf("failed to scan migrations: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get applied versions: %w", err)
	}

	files := make(map[string]Migration, len(available))
	for _, migration := range available {
		files[migration.Version] = migration
	}

	appliedSet := make(map[string]struct{}, len(applied))
	status := Status{AppliedMigrations: applied}
	for _, a := range applied {
		file, ok := files[a.Version]
		if !ok {
			return Status{}, fmt.Errorf("%w: applied migration %s has no file", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != file.Checksum {
			return Status{}, NewMigrationError(a.Version, file.FilePath, "verify checksum", ErrChecksumMismatch)
		}
		appliedSet[a.Version] = struct{}{}
		status.CurrentVersion = a.Version
	}

	for _, migration := range available {
		if _, ok := appliedSet[migration.Version]; !ok {
			status.PendingMigrations = append(status.PendingMigrations, migration)
		}
	}
	return status, nil
}
