package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	logger *zap.Logger
}

func New(storagePath string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", storagePath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database connection established", zap.String("path", storagePath))
	return database, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// Policy and display settings
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		// Work records, one row per identity
		`CREATE TABLE IF NOT EXISTS work_records (
			id TEXT PRIMARY KEY,
			date TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			break_seconds INTEGER NOT NULL DEFAULT 0,
			bonus_amount REAL NOT NULL DEFAULT 0,
			total_hours REAL NOT NULL DEFAULT 0,
			overtime_seconds INTEGER NOT NULL DEFAULT 0,
			note TEXT,
			last_modified TIMESTAMP NOT NULL,
			remote_version TEXT NOT NULL DEFAULT '',
			deletion TEXT NOT NULL DEFAULT 'live',
			dirty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_records_date ON work_records(date)`,
		`CREATE INDEX IF NOT EXISTS idx_work_records_dirty ON work_records(dirty)`,
		`CREATE INDEX IF NOT EXISTS idx_work_records_deletion ON work_records(deletion)`,
		// Sync cursor, keyed so future containers can track their own progress
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			cursor TEXT NOT NULL DEFAULT '',
			generation INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info("Database migrations completed")
	return nil
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Info("Database connection closed")
	return nil
}
