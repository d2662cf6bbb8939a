// Package sqlite provides SQLite storage for real-time samples, rollups and
// entity capabilities.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// dsnParams puts the database in WAL mode so the CLI can read while the
// agent writes, and makes writers wait on each other instead of failing.
var dsnParams = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// DB is the sample database shared by the agent and the CLI.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the sample database at path, creating the file, its directory
// and the tables as needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?"+dsnParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db := &DB{conn: conn, path: path}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn exposes the pool for stores living outside this package.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Checkpoint folds the WAL back into the main file. The agent calls it on
// clean shutdown so the CLI finds a compact database.
func (db *DB) Checkpoint() error {
	_, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execEach prepares query once and runs it with args(item) for each item.
// Items for which args returns nil are skipped.
func execEach[T any](ctx context.Context, tx *sql.Tx, query string, items []T, args func(T) []any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		a := args(item)
		if a == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
