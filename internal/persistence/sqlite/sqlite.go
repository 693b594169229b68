// Package sqlite implements the persistence repositories on top of the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"embed"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	pool *ConnectionPool

	Users    *UserRepository
	Sessions *SessionRepository
	Slots    *SlotRepository
}

// Open connects to the database file at path using DefaultConfig.
func Open(path string) (*Storage, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig connects using an explicit configuration.
func OpenWithConfig(config Config) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:     pool,
		Users:    NewUserRepository(pool),
		Sessions: NewSessionRepository(pool),
		Slots:    NewSlotRepository(pool),
	}, nil
}

// Pool exposes the underlying connection pool.
func (s *Storage) Pool() *ConnectionPool {
	return s.pool
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger zerolog.Logger) error {
	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLExecutor(s.pool.DB(), migration.DialectSQLite),
		logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Storage) MigrationStatus(ctx context.Context, logger zerolog.Logger) (*migration.MigrationStatus, error) {
	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLExecutor(s.pool.DB(), migration.DialectSQLite),
		logger,
	)
	return manager.Status(ctx)
}
