// Package history persists an audit trail of verification runs to a
// local SQLite database. The result log is the source of truth for
// per-file outcomes; history only records run-level summaries so past
// composite hashes can be compared without re-reading old logs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses recorded in the audit trail.
const (
	StatusComplete    = "complete"
	StatusPartial     = "partial"
	StatusInterrupted = "interrupted"
)

// RunRecord summarizes one verification run.
type RunRecord struct {
	ID            int64
	Root          string
	Algorithm     string
	Started       time.Time
	Finished      time.Time
	Status        string
	FilesHashed   int64
	FilesFailed   int64
	FilesSkipped  int64
	BytesHashed   int64
	CompositeHash string
}

// Store wraps the SQLite database holding run records.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the history database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single connection avoids "database is locked" errors; the store
	// is only ever written once per run.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		started TIMESTAMP NOT NULL,
		finished TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files_hashed INTEGER DEFAULT 0,
		files_failed INTEGER DEFAULT 0,
		files_skipped INTEGER DEFAULT 0,
		bytes_hashed INTEGER DEFAULT 0,
		composite_hash TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_root_started ON runs(root, started DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun appends one run record and returns its id.
func (s *Store) SaveRun(rec RunRecord) (int64, error) {
	switch rec.Status {
	case StatusComplete, StatusPartial, StatusInterrupted:
	default:
		return 0, fmt.Errorf("invalid run status %q", rec.Status)
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (root, algorithm, started, finished, status,
			files_hashed, files_failed, files_skipped, bytes_hashed, composite_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Root, rec.Algorithm, rec.Started.UTC(), rec.Finished.UTC(), rec.Status,
		rec.FilesHashed, rec.FilesFailed, rec.FilesSkipped, rec.BytesHashed, rec.CompositeHash,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	return res.LastInsertId()
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, root, algorithm, started, finished, status,
			files_hashed, files_failed, files_skipped, bytes_hashed, COALESCE(composite_hash, '')
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Root, &r.Algorithm, &r.Started, &r.Finished, &r.Status,
			&r.FilesHashed, &r.FilesFailed, &r.FilesSkipped, &r.BytesHashed, &r.CompositeHash); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
