// Package postgres implements the persistence repositories on PostgreSQL
// through pgx.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the PostgreSQL repositories over one pgx pool.
type Storage struct {
	pool *pgxpool.Pool

	Users    *UserRepository
	Sessions *SessionRepository
	Slots    *SlotRepository
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStorage(pool), nil
}

// NewStorage wraps an existing pool.
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{
		pool:     pool,
		Users:    &UserRepository{pool: pool},
		Sessions: &SessionRepository{pool: pool},
		Slots:    &SlotRepository{pool: pool},
	}
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger zerolog.Logger) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLExecutor(db, migration.DialectPostgres),
		logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Storage) MigrationStatus(ctx context.Context, logger zerolog.Logger) (*migration.MigrationStatus, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	manager := migration.NewManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLExecutor(db, migration.DialectPostgres),
		logger,
	)
	return manager.Status(ctx)
}

// Pool exposes the underlying pgx pool.
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}
