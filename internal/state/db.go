// internal/state/db.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run ID has no record.
var ErrNotFound = errors.New("run not found")

// RunRecord is one job run in the history.
type RunRecord struct {
	ID               int64     `json:"id"`
	JobName          string    `json:"job"`
	TriggerType      string    `json:"trigger"`
	State            string    `json:"state"` // success, failure, timeout, cancelled, skipped
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMs       int64     `json:"duration_ms"`
	RetryAttempt     int       `json:"retry_attempt,omitempty"`
	TriggeredByRunID int64     `json:"triggered_by,omitempty"`
	Files            int       `json:"files"`
	BytesIn          int64     `json:"bytes_in"`
	BytesOut         int64     `json:"bytes_out"`
	Matches          int64     `json:"matches"`
	DigitsMasked     int64     `json:"digits_masked"`
	EventData        string    `json:"event_data,omitempty"` // JSON, max 1KB
	Error            string    `json:"error,omitempty"`
	Output           string    `json:"output,omitempty"` // truncated to 10KB, scrubbed
	DryRun           bool      `json:"dry_run"`
}

// Totals aggregates the counters of many runs.
type Totals struct {
	Runs         int64 `json:"runs"`
	Files        int64 `json:"files"`
	BytesIn      int64 `json:"bytes_in"`
	BytesOut     int64 `json:"bytes_out"`
	Matches      int64 `json:"matches"`
	DigitsMasked int64 `json:"digits_masked"`
}

// DB wraps the SQLite database connection for run history.
type DB struct {
	db *sql.DB
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mask_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_name TEXT NOT NULL,
    trigger_type TEXT NOT NULL,
    state TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    retry_attempt INTEGER DEFAULT 0,
    triggered_by_run_id INTEGER REFERENCES mask_runs(id),
    files INTEGER NOT NULL DEFAULT 0,
    bytes_in INTEGER NOT NULL DEFAULT 0,
    bytes_out INTEGER NOT NULL DEFAULT 0,
    matches INTEGER NOT NULL DEFAULT 0,
    digits_masked INTEGER NOT NULL DEFAULT 0,
    event_data TEXT,
    error TEXT,
    output TEXT,
    dry_run BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mask_runs_job ON mask_runs(job_name);
CREATE INDEX IF NOT EXISTS idx_mask_runs_state ON mask_runs(state);
CREATE INDEX IF NOT EXISTS idx_mask_runs_started ON mask_runs(started_at);
`

const runColumns = `id, job_name, trigger_type, state, started_at, finished_at, duration_ms,
	retry_attempt, triggered_by_run_id, files, bytes_in, bytes_out, matches, digits_masked,
	event_data, error, output, dry_run`

// Open opens or creates a state database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between concurrent job handlers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			db.Close()
			return nil, fmt.Errorf("writing schema version: %w", err)
		}
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// RecordRun stores a run record and returns its ID.
func (d *DB) RecordRun(rec RunRecord) (int64, error) {
	var triggeredBy *int64
	if rec.TriggeredByRunID > 0 {
		triggeredBy = &rec.TriggeredByRunID
	}

	result, err := d.db.Exec(`
		INSERT INTO mask_runs
		(job_name, trigger_type, state, started_at, finished_at, duration_ms,
		 retry_attempt, triggered_by_run_id, files, bytes_in, bytes_out, matches,
		 digits_masked, event_data, error, output, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobName, rec.TriggerType, rec.State, rec.StartedAt, rec.FinishedAt,
		rec.DurationMs, rec.RetryAttempt, triggeredBy, rec.Files, rec.BytesIn,
		rec.BytesOut, rec.Matches, rec.DigitsMasked, rec.EventData, rec.Error,
		rec.Output, rec.DryRun,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	return result.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var r RunRecord
	var triggeredBy sql.NullInt64
	var eventData, errStr, output sql.NullString
	err := s.Scan(&r.ID, &r.JobName, &r.TriggerType, &r.State,
		&r.StartedAt, &r.FinishedAt, &r.DurationMs, &r.RetryAttempt, &triggeredBy,
		&r.Files, &r.BytesIn, &r.BytesOut, &r.Matches, &r.DigitsMasked,
		&eventData, &errStr, &output, &r.DryRun)
	if err != nil {
		return r, err
	}
	r.TriggeredByRunID = triggeredBy.Int64
	r.EventData = eventData.String
	r.Error = errStr.String
	r.Output = output.String
	return r, nil
}

// GetRun returns one run by ID.
func (d *DB) GetRun(id int64) (*RunRecord, error) {
	row := d.db.QueryRow("SELECT "+runColumns+" FROM mask_runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return &r, nil
}

// GetHistory retrieves run history filtered by job name and/or state,
// newest first.
func (d *DB) GetHistory(jobName, state string, limit int) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM mask_runs WHERE 1=1"
	var args []any

	if jobName != "" {
		query += " AND job_name = ?"
		args = append(args, jobName)
	}
	if state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetLastState returns the most recent run state for a job, or "" if it
// never ran.
func (d *DB) GetLastState(jobName string) (string, error) {
	var state sql.NullString
	err := d.db.QueryRow(
		"SELECT state FROM mask_runs WHERE job_name = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		jobName,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last state: %w", err)
	}
	return state.String, nil
}

// Totals sums the counters of every run of jobName, or of all jobs when
// jobName is empty. Dry runs are excluded.
func (d *DB) Totals(jobName string) (Totals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(files), 0), COALESCE(SUM(bytes_in), 0),
		COALESCE(SUM(bytes_out), 0), COALESCE(SUM(matches), 0), COALESCE(SUM(digits_masked), 0)
		FROM mask_runs WHERE dry_run = FALSE`
	var args []any
	if jobName != "" {
		query += " AND job_name = ?"
		args = append(args, jobName)
	}

	var t Totals
	err := d.db.QueryRow(query, args...).Scan(&t.Runs, &t.Files, &t.BytesIn, &t.BytesOut, &t.Matches, &t.DigitsMasked)
	if err != nil {
		return t, fmt.Errorf("summing runs: %w", err)
	}
	return t, nil
}

// Cleanup removes run records older than the specified number of days.
func (d *DB) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := d.db.Exec(
		"DELETE FROM mask_runs WHERE started_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up history: %w", err)
	}
	return result.RowsAffected()
}
