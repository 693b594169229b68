// Package migration applies versioned SQL schema files.
//
// Files follow the {version}_{description}.sql naming convention (for example
// 001_initial_schema.sql) and are read from any fs.FS, typically an embedded
// directory owned by a store package. Applied versions and their checksums are
// tracked in a schema_migrations table; each file runs in its own transaction.
//
//	scanner := migration.NewFileScanner(migrationFiles, "migrations")
//	executor := migration.NewSQLExecutor(db, migration.DialectSQLite)
//	if err := migration.NewManager(scanner, executor, logger).RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
