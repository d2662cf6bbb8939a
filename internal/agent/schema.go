package agent

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-sqlite3"
)

// migrations[i] upgrades a database from version i to i+1. Tables are
// created with IF NOT EXISTS on open, so version 1 only stamps the file.
var migrations = []func(tx *sql.Tx) error{
	func(*sql.Tx) error { return nil },
}

// CurrentSchemaVersion is the sample database layout this agent writes.
var CurrentSchemaVersion = len(migrations)

// SchemaManager tracks the sample database layout in PRAGMA user_version so
// an older agent never writes to a database a newer one has reshaped.
type SchemaManager struct {
	db *sql.DB
}

// NewSchemaManager creates a new SchemaManager.
func NewSchemaManager(db *sql.DB) *SchemaManager {
	return &SchemaManager{db: db}
}

// Version returns the stored schema version, 0 for a fresh database.
func (m *SchemaManager) Version() (int, error) {
	var version int
	err := m.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// CheckAndMigrate applies the pending migrations, each in its own
// transaction. A database written by a newer agent is rejected.
func (m *SchemaManager) CheckAndMigrate() error {
	version, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("sample database is at schema v%d but this vperf-agent supports up to v%d; upgrade vperf-agent",
			version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := m.step(v); err != nil {
			return fmt.Errorf("migration v%d to v%d failed: %w", v, v+1, err)
		}
	}
	return nil
}

func (m *SchemaManager) step(from int) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := migrations[from](tx); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", from+1)); err != nil {
		return err
	}
	return tx.Commit()
}

// CheckDatabaseIntegrity runs PRAGMA quick_check against an existing
// database file. A missing file is not an error.
func CheckDatabaseIntegrity(dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return &CorruptionError{Details: result}
	}
	return nil
}

// CorruptionError indicates database corruption was detected.
type CorruptionError struct {
	Details string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("database corruption detected: %s", e.Details)
}

// RecreateDatabase moves a corrupted database aside so a fresh one can be
// created. Returns the backup path, or "" when the file had to be removed.
func RecreateDatabase(dbPath string) (string, error) {
	backupPath := dbPath + ".corrupted"
	if _, err := os.Stat(backupPath); err == nil {
		backupPath = fmt.Sprintf("%s.corrupted.%d", dbPath, os.Getpid())
	}

	if err := os.Rename(dbPath, backupPath); err != nil {
		if rmErr := os.Remove(dbPath); rmErr != nil {
			return "", fmt.Errorf("failed to backup or remove corrupted database: %w", err)
		}
		backupPath = ""
	}

	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")

	return backupPath, nil
}

// DiskFullError means the sample database's volume is out of room.
type DiskFullError struct {
	AvailableBytes uint64
	RequiredBytes  uint64
}

func (e *DiskFullError) Error() string {
	return fmt.Sprintf("insufficient disk space for samples: %s free, %s required",
		humanize.IBytes(e.AvailableBytes), humanize.IBytes(e.RequiredBytes))
}

// MinDiskSpaceBytes is the free space required to start sampling.
const MinDiskSpaceBytes = 10 << 20

// CheckMinDiskSpace fails with a DiskFullError when the volume that will
// hold dbPath has less than MinDiskSpaceBytes free. A volume that cannot
// be inspected is assumed to have room.
func CheckMinDiskSpace(dbPath string) error {
	avail, err := freeSpace(filepath.Dir(dbPath))
	if err != nil || avail >= MinDiskSpaceBytes {
		return nil
	}
	return &DiskFullError{AvailableBytes: avail, RequiredBytes: MinDiskSpaceBytes}
}

// IsDiskFullError reports whether err means SQLite ran out of space.
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return true
	}
	var diskErr *DiskFullError
	if errors.As(err, &diskErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "disk is full") ||
		strings.Contains(msg, "database is full") ||
		strings.Contains(msg, "no space left")
}
