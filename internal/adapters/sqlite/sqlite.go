// Package sqlite opens SQLite databases with the pragmas the service
// depends on (WAL journaling, busy timeout) and applies schema DDL. Both
// the job queue and the report store go through it.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Default pragma configuration constants.
const (
	defaultBusyTimeoutMs = 10_000
	defaultSynchronous   = "NORMAL"
)

// MemoryPath opens a private in-memory database; every test gets its own.
const MemoryPath = ":memory:"

type config struct {
	busyTimeoutMs int
	synchronous   string
	mkdirAll      bool
	schemas       []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(c *config) {
		if ms > 0 {
			c.busyTimeoutMs = ms
		}
	}
}

// WithSynchronous sets PRAGMA synchronous.
func WithSynchronous(mode string) Option {
	return func(c *config) {
		if mode != "" {
			c.synchronous = mode
		}
	}
}

// WithMkdirAll creates parent directories of the database path first.
func WithMkdirAll() Option {
	return func(c *config) { c.mkdirAll = true }
}

// WithSchema queues DDL to execute after the pragmas are applied.
func WithSchema(ddl string) Option {
	return func(c *config) { c.schemas = append(c.schemas, ddl) }
}

// Open opens the database at path with production pragmas applied. An
// in-memory database is pinned to a single connection so every statement
// sees the same data.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{
		busyTimeoutMs: defaultBusyTimeoutMs,
		synchronous:   defaultSynchronous,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.mkdirAll && path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeoutMs),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	for _, ddl := range cfg.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}
