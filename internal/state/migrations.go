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

// MigrationStatus describes one known migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// Migrator handles SQLite schema migrations
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

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial ledger schema",
			Up: func(tx *sql.Tx) error {
				for _, tableSQL := range AllTables() {
					if _, err := tx.Exec(tableSQL); err != nil {
						return fmt.Errorf("failed to create table: %w", err)
					}
				}
				if _, err := tx.Exec(createIndexes); err != nil {
					return fmt.Errorf("failed to create indexes: %w", err)
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				tables := []string{
					"DROP TABLE IF EXISTS pending_increments",
					"DROP TABLE IF EXISTS leaderboard",
					"DROP TABLE IF EXISTS user_category_counts",
					"DROP TABLE IF EXISTS user_stats",
					"DROP TABLE IF EXISTS user_scans",
					"DROP TABLE IF EXISTS scans",
				}
				for _, dropSQL := range tables {
					if _, err := tx.Exec(dropSQL); err != nil {
						return fmt.Errorf("failed to drop table: %w", err)
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "Add leaderboard ranking index",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(createLeaderboardIndex); err != nil {
					return fmt.Errorf("failed to create leaderboard index: %w", err)
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				if _, err := tx.Exec("DROP INDEX IF EXISTS idx_leaderboard_rank"); err != nil {
					return fmt.Errorf("failed to drop leaderboard index: %w", err)
				}
				return nil
			},
		},
	}
}

// ensureMigrationsTable creates the migrations tracking table if it doesn't exist
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	);
	`
	_, err := m.db.ExecContext(ctx, createTableSQL)
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
		return fmt.Errorf("failed to get current version: %w", err)
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
			migration.Version,
			migration.Description,
			time.Now().Unix(),
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
		return fmt.Errorf("failed to get current version: %w", err)
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

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", last.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to remove migration record %d: %w", last.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback %d: %w", last.Version, err)
	}
	return nil
}

// Status reports every known migration and whether it has been applied
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     migration.Version <= currentVersion,
		})
	}
	return statuses, nil
}
