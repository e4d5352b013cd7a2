// Package sqlite provides an embedded policy.PolicyStore over
// modernc.org/sqlite's pure-Go driver: a single-file, no-cgo store for
// running Zephir without a PostgreSQL server — local development, or a
// single-binary deployment where standing up Postgres is overkill.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var migrationSQL string

// Open opens (creating if necessary) the SQLite database file at path
// and applies the embedded schema. path may be ":memory:" for a
// purely in-process database that disappears on close.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite allows only one writer at a time; a single connection
	// avoids "database is locked" errors under concurrent requests
	// rather than papering over them with busy-retry logic.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return db, nil
}
