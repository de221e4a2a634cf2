// Package store provides the durable local queue and read mirror backed by
// SQLite. It is the only shared mutable resource between the request gateway
// (producer) and the sync engine (consumer); each statement is atomic, which
// is all the coordination the two sides need.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
)

// Store wraps the sql.DB holding the pending queue and local mirror.
type Store struct {
	db *sql.DB
}

// Open opens the client database under dataDir, creating it if needed.
// The database is opened with WAL mode and foreign keys enabled, and a
// single connection since SQLite allows one writer.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "attendsync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable foreign keys", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the tables and indexes if they don't exist.
// The mirror tables shadow their server-side counterparts; the pending
// table is the durable write queue.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS members (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			class TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			birthdate TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_members_class ON members(class);

		CREATE TABLE IF NOT EXISTS classes (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			teacher TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			room TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS attendance (
			member_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			status TEXT NOT NULL,
			check_in_time TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (member_id, date)
		);
		CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);

		CREATE TABLE IF NOT EXISTS pending (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			op_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_pending_type ON pending(op_type);
		CREATE INDEX IF NOT EXISTS idx_pending_enqueued ON pending(enqueued_at);

		CREATE TABLE IF NOT EXISTS dead_letter (
			id INTEGER PRIMARY KEY,
			op_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			attempt_count INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			parked_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS leases (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to initialize schema", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// storageErr wraps a low-level database error with the storage code so
// callers can treat it as non-fatal and retry on the next trigger.
func storageErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("store: %s", op), err)
}
