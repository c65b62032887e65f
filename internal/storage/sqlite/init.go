package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const DefaultPath = "transfers.db"

// InitDB opens the SQLite database at path and creates the transfers table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		attribute TEXT NOT NULL,
		direction TEXT NOT NULL,
		expected_length INTEGER NOT NULL DEFAULT 0,
		transferred_length INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		classification TEXT,
		error TEXT,
		client_id TEXT,
		completed_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transfers_attachment ON transfers (bucket, object_key, attribute)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers index: %w", err)
	}

	return db, nil
}
