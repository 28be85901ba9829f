// Package migration applies versioned SQL schema changes to SQLite databases.
//
// Migration files are read from an fs.FS (usually an embed.FS compiled into the
// binary) and follow the naming convention {version}_{description}.sql, for
// example "001_initial_schema.sql". Each file runs inside its own transaction and
// is recorded in the schema_migrations table so it is applied exactly once.
//
// Example usage:
//
//	manager := NewManager(NewFileScanner(migrations, "."), NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
