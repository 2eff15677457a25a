package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// Migrator handles database migrations
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a new migrator
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: getMigrations(),
	}
}

func execAll(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create detection_results table",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE IF NOT EXISTS detection_results (
						id TEXT PRIMARY KEY,
						source_name TEXT,
						source_type TEXT NOT NULL DEFAULT 'upload',
						metadata TEXT NOT NULL, -- JSON
						summary TEXT NOT NULL,  -- JSON
						payload TEXT NOT NULL,  -- JSON
						created_at INTEGER NOT NULL -- unix nanoseconds, UTC
					)`,
					`CREATE INDEX IF NOT EXISTS idx_detection_results_created ON detection_results(created_at DESC, id DESC)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, `DROP TABLE IF EXISTS detection_results`)
			},
		},
		{
			Version:     2,
			Description: "Create detection_items table for class filtering and analytics",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE IF NOT EXISTS detection_items (
						detection_id TEXT PRIMARY KEY,
						record_id TEXT NOT NULL,
						position INTEGER NOT NULL,
						class_id INTEGER NOT NULL,
						class_name TEXT NOT NULL,
						confidence REAL NOT NULL,
						created_at INTEGER NOT NULL,
						FOREIGN KEY (record_id) REFERENCES detection_results(id) ON DELETE CASCADE
					)`,
					`CREATE INDEX IF NOT EXISTS idx_detection_items_class ON detection_items(class_name, record_id)`,
					`CREATE INDEX IF NOT EXISTS idx_detection_items_created ON detection_items(created_at DESC)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, `DROP TABLE IF EXISTS detection_items`)
			},
		},
	}
}

// ensureMigrationsTable creates the migrations tracking table if it doesn't exist
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	return err
}

// GetCurrentVersion returns the current migration version
func (m *Migrator) GetCurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	var version sql.NullInt64
	err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// Up applies all pending migrations
func (m *Migrator) Up(ctx context.Context) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			migration.Version, migration.Description, time.Now().Unix(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Down rolls back the last migration
func (m *Migrator) Down(ctx context.Context) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var last *Migration
	for i := len(m.migrations) - 1; i >= 0; i-- {
		if m.migrations[i].Version == currentVersion {
			last = &m.migrations[i]
			break
		}
	}
	if last == nil {
		return fmt.Errorf("migration version %d not found", currentVersion)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := last.Down(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to rollback migration %d: %w", last.Version, err)
	}

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", currentVersion); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to remove migration record %d: %w", currentVersion, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}
	return nil
}

// Status returns the current version and the number of pending migrations
func (m *Migrator) Status(ctx context.Context) (currentVersion int, pendingCount int, err error) {
	currentVersion, err = m.GetCurrentVersion(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			pendingCount++
		}
	}
	return currentVersion, pendingCount, nil
}
