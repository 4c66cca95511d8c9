// Package history keeps a SQLite log of verification runs so past results
// can be listed and re-read without the JSON report files.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KimHG1995/db-migration-checker/internal/report"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL,
	source        TEXT NOT NULL,
	destination   TEXT NOT NULL,
	hash_mode     TEXT NOT NULL,
	status        TEXT NOT NULL,
	tables_total  INTEGER NOT NULL,
	tables_ok     INTEGER NOT NULL,
	tables_failed INTEGER NOT NULL,
	cancelled     INTEGER NOT NULL DEFAULT 0,
	report_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one row of the history listing.
type Run struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  time.Time
	Source       string
	Destination  string
	HashMode     string
	Status       report.Status
	TablesTotal  int
	TablesOK     int
	TablesFailed int
	Cancelled    bool
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r. Recording the same run id again replaces it.
func (s *Store) Record(r *report.MigrationReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
			(id, started_at, completed_at, source, destination, hash_mode, status,
			 tables_total, tables_ok, tables_failed, cancelled, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.CompletedAt.UTC().Format(time.RFC3339Nano),
		r.Source.String(),
		r.Destination.String(),
		r.Hash.Mode,
		string(r.Status),
		r.Summary.TablesChecked,
		r.Summary.OK,
		r.Summary.Mismatched+r.Summary.Errored,
		r.Cancelled,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, completed_at, source, destination, hash_mode, status,
		       tables_total, tables_ok, tables_failed, cancelled
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                  Run
			started, completed string
			status             string
		)
		if err := rows.Scan(&r.ID, &started, &completed, &r.Source, &r.Destination, &r.HashMode,
			&status, &r.TablesTotal, &r.TablesOK, &r.TablesFailed, &r.Cancelled); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = report.Status(status)
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("run %s: bad completed_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns the full report of a run.
func (s *Store) Get(id string) (*report.MigrationReport, error) {
	var body string
	err := s.db.QueryRow("SELECT report_json FROM runs WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	var r report.MigrationReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &r, nil
}
