package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Manager applies pending migrations in version order.
type Manager struct {
	scanner  FileScanner
	executor Executor
	logger   zerolog.Logger
}

// NewManager wires a scanner and executor together.
func NewManager(scanner FileScanner, executor Executor, logger zerolog.Logger) *Manager {
	return &Manager{
		scanner:  scanner,
		executor: executor,
		logger:   logger.With().Str("component", "migration").Logger(),
	}
}

// RunMigrations executes all pending migrations sequentially. It refuses to
// run when an applied migration's file content has changed since.
func (m *Manager) RunMigrations(ctx context.Context) error {
	startTime := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("current_version", status.CurrentVersion).
		Int("pending", status.PendingCount).
		Msg("schema version checked")

	for i, migration := range status.PendingMigrations {
		logger := m.logger.With().
			Str("version", migration.Version).
			Str("description", migration.Description).
			Str("file", migration.FilePath).
			Logger()
		logger.Info().Msgf("applying migration (%d/%d)", i+1, status.PendingCount)

		migrationStart := time.Now()
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.Error().Err(err).Msg("migration failed")
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		executionTime := time.Since(migrationStart)
		if err := m.executor.RecordMigration(ctx, migration, executionTime); err != nil {
			logger.Error().Err(err).Msg("failed to record migration")
			return NewMigrationError(migration.Version, migration.FilePath, "record migration", err)
		}
		logger.Info().Dur("duration", executionTime).Msg("migration applied")
	}

	if status.PendingCount > 0 {
		m.logger.Info().
			Int("applied", status.PendingCount).
			Dur("duration", time.Since(startTime)).
			Msg("all migrations completed")
	}
	return nil
}

// Status compares the migration files with the schema_migrations table.
func (m *Manager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	available, err := m.scanner.ScanMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	status := &MigrationStatus{AppliedMigrations: applied}
	for _, migration := range available {
		record, ok := appliedByVersion[migration.Version]
		if !ok {
			status.PendingMigrations = append(status.PendingMigrations, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, NewMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	status.PendingCount = len(status.PendingMigrations)
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	return status, nil
}
