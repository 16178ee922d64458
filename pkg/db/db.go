// Package db holds the SQLite mirror: connection setup, schema migrations and
// the queries behind the reporting endpoints.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const memoryPath = ":memory:"

// Database wraps the SQL handle.
type Database struct {
	DB *sql.DB
}

// New opens the SQLite file at path, creating its directory. ":memory:" opens a private in-memory database.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	dsn := memoryPath
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: the mirror has a single writer, and an in-memory database lives per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Database{DB: sqlDB}, nil
}

// Close releases the underlying handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
