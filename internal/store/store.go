// Package store provides the versioned key/value store backing liteboard
// sync spaces, built on embedded SQLite (ncruces/go-sqlite3) with WAL mode
// for concurrent reads.
//
// Each space owns a set of entries. Every entry carries the space version
// it was last written at, and deletes are soft (tombstones), so incremental
// pulls can observe them. A companion space table tracks the per-space
// version counter (the sync "cookie"), and a client table tracks the last
// mutation ID applied for each client.
//
// All reads and writes that belong to one request run inside a single
// transaction via Transact; the per-operation methods hang off Tx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL for concurrent reads during writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent; safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS space (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		lastmodified TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client (
		id TEXT PRIMARY KEY,
		lastmutationid INTEGER NOT NULL,
		lastmodified TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entry (
		spaceid TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		lastmodified TEXT NOT NULL,
		PRIMARY KEY (spaceid, key)
	);

	CREATE INDEX IF NOT EXISTS idx_entry_space ON entry(spaceid);
	CREATE INDEX IF NOT EXISTS idx_entry_space_deleted ON entry(spaceid, deleted);
	CREATE INDEX IF NOT EXISTS idx_entry_space_version ON entry(spaceid, version);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Transact runs fn inside a single database transaction. The transaction
// is rolled back if fn returns an error and committed otherwise.
func (db *DB) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx exposes the store operations within one transaction boundary.
type Tx struct {
	tx *sql.Tx
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}
