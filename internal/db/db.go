// Package db provides a centralized database connection and schema for luxd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Calibration profiles - one JSON payload per room, versioned on overwrite
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calibration_profiles (
			room TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create calibration_profiles table: %w", err)
	}

	// Calibration ledger - append-only run history for auditing
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS calibration_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			room TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON calibration_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_room ON calibration_ledger(room, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create calibration_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
