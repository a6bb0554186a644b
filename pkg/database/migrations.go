package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the embedded, ordered schema history. New schema changes
// append a new entry; applied versions are never edited.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_decisions",
		SQL: `
			CREATE TABLE IF NOT EXISTS decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				employee_id TEXT NOT NULL,
				employee_name TEXT NOT NULL,
				category TEXT NOT NULL,
				month TEXT NOT NULL,
				date TEXT,
				verdict TEXT NOT NULL,
				claimed_amount REAL NOT NULL DEFAULT 0,
				approved_amount REAL NOT NULL DEFAULT 0,
				currency TEXT NOT NULL,
				valid_bill_count INTEGER NOT NULL DEFAULT 0,
				invalid_bill_count INTEGER NOT NULL DEFAULT 0,
				confidence_score REAL NOT NULL DEFAULT 0,
				manual_review INTEGER NOT NULL DEFAULT 0,
				parse_failed INTEGER NOT NULL DEFAULT 0,
				reasons TEXT NOT NULL DEFAULT '[]',
				model TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(employee_id, category, month, date, model)
			);
			CREATE INDEX IF NOT EXISTS idx_decisions_employee ON decisions(employee_id);
			CREATE INDEX IF NOT EXISTS idx_decisions_category_month ON decisions(category, month);
			CREATE INDEX IF NOT EXISTS idx_decisions_manual_review ON decisions(manual_review);
		`,
	},
}

// Migrator applies the embedded schema history
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// createMigrationsTable creates the migrations tracking table
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.Exec(query)
	return err
}

// getAppliedMigrations returns the list of applied migration versions
func (m *Migrator) getAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// RunMigrations executes all pending embedded migrations
func (m *Migrator) RunMigrations() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			m.logger.Debug("Skipping applied migration",
				zap.Int("version", migration.Version),
				zap.String("name", migration.Name))
			continue
		}

		m.logger.Info("Applying migration",
			zap.Int("version", migration.Version),
			zap.String("name", migration.Name))

		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	m.logger.Info("Database migrations completed successfully")
	return nil
}

// applyMigration applies a single migration within a transaction
func (m *Migrator) applyMigration(migration Migration) error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(migration.SQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}

		_, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		return nil
	})
}
