// Package sqlite implements the store interfaces on an embedded SQLite
// database using the pure-Go driver.
package sqlite

import (
	"database/sql"
	"fmt"

	"promptplane/internal/store"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed implementations of all repositories.
// Queries go through the DBTransaction interface so they run identically
// inside or outside an explicit transaction.
type Store struct {
	db *sql.DB
	q  store.DBTransaction
}

// New opens (creating if needed) the database at path and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; concurrent same-row updates serialize here.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
