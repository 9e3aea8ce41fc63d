package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	destination   TEXT NOT NULL,
	resume        INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	bytes_written INTEGER NOT NULL DEFAULT 0,
	resumed_from  INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	instance      TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_status_updated ON downloads (status, updated_at);
CREATE INDEX IF NOT EXISTS idx_downloads_destination ON downloads (destination, created_at);
`

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
// ":memory:" gives a private in-memory database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
