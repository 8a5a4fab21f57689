// Package db persists projects and their run history in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// busyTimeoutMillis covers the CLI and a running server touching the same
// file at once.
const busyTimeoutMillis = 5000

var pragmas = []struct {
	name  string
	query string
}{
	{"enable foreign keys", `PRAGMA foreign_keys = ON`},
	{"enable WAL journal", `PRAGMA journal_mode = WAL`},
	{"set busy timeout", fmt.Sprintf(`PRAGMA busy_timeout = %d`, busyTimeoutMillis)},
}

// DB owns the connection and hands out the repositories built on it.
type DB struct {
	conn     *sql.DB
	projects *ProjectRepo
	runs     *RunRepo
}

// Open creates the database file and its directory if needed, applies the
// connection pragmas and migrates the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}

	// pragmas are per connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.query); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.name, err)
		}
	}

	if err := RunMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{
		conn:     conn,
		projects: NewProjectRepo(conn),
		runs:     NewRunRepo(conn),
	}, nil
}

// Projects returns the project repository.
func (d *DB) Projects() *ProjectRepo { return d.projects }

// Runs returns the run history repository.
func (d *DB) Runs() *RunRepo { return d.runs }

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
