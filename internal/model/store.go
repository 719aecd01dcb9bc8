// Package model manages locally hosted completion models: the catalog of
// known artifacts, download with checksum verification, the sqlite record
// store, the models-directory watcher, and the active-model slot the inline
// completion path runs against.
package model

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/logging"
)

// Status is the lifecycle state of a local model record. Absence of a record
// means the model was never downloaded (or its artifact disappeared).
type Status string

const (
	// StatusDownloading means an artifact fetch is in progress.
	StatusDownloading Status = "downloading"
	// StatusReady means the artifact is on disk and checksum-verified.
	StatusReady Status = "ready"
	// StatusError means the last download or verification failed.
	StatusError Status = "error"
)

// Record is one local model's persisted state.
type Record struct {
	ID        string
	Path      string
	Status    Status
	SizeBytes int64
	Checksum  string
	Error     string
	UpdatedAt time.Time
}

// Store persists model records in sqlite under the models directory.
type Store struct {
	db *sql.DB
}

// OpenStore initializes the record database at the given path.
func OpenStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Model store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS models (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			status     TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			checksum   TEXT NOT NULL DEFAULT '',
			error      TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO models (id, path, status, size_bytes, checksum, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			status = excluded.status,
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.Path, string(r.Status), r.SizeBytes, r.Checksum, r.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", r.ID, err)
	}
	logging.StoreDebug("model %s -> %s", r.ID, r.Status)
	return nil
}

// Get returns the record for a model id, or ok=false if none exists.
func (s *Store) Get(id string) (Record, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, path, status, size_bytes, checksum, error, updated_at
		FROM models WHERE id = ?
	`, id)

	var r Record
	var status string
	err := row.Scan(&r.ID, &r.Path, &status, &r.SizeBytes, &r.Checksum, &r.Error, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load model %s: %w", id, err)
	}
	r.Status = Status(status)
	return r, true, nil
}

// List returns all records ordered by id.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, path, status, size_bytes, checksum, error, updated_at
		FROM models ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.ID, &r.Path, &status, &r.SizeBytes, &r.Checksum, &r.Error, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM models WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete model %s: %w", id, err)
	}
	return nil
}

// SetError marks a record failed with a human-readable reason.
func (s *Store) SetError(id, reason string) error {
	_, err := s.db.Exec(`
		UPDATE models SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(StatusError), reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark model %s failed: %w", id, err)
	}
	return nil
}
