// Package audit is the job audit log (spec §4.9, supplemental): an
// append-only record of CollectionJob state transitions, backed by SQLite.
//
// Storage idiom grounded on the teacher's internal/storage/sqlite package
// (WAL pragmas, schema-on-open, single-writer connection). Unlike the
// teacher's store, this one uses modernc.org/sqlite (a CGo-free driver)
// rather than mattn/go-sqlite3 — the teacher's own go.mod listed
// modernc.org/sqlite as a dependency while sqlite.go imported mattn/go-sqlite3
// under the hood, so this package settles on the driver the module actually
// declares.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const pragmaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;
`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS job_events (
    id         INTEGER PRIMARY KEY,
    job_id     TEXT NOT NULL,
    cvm        TEXT NOT NULL,
    state      TEXT NOT NULL,
    stage      TEXT NOT NULL,
    message    TEXT,
    at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id);
CREATE INDEX IF NOT EXISTS idx_job_events_at ON job_events(at DESC);
`

// Log is an append-only job_events table over one connection; every
// statement is serialized by mu.
type Log struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the audit database at path. Use ":memory:" for an
// in-process database (useful in tests).
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(pragmaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Event is one job_events row.
type Event struct {
	JobID   string
	CVM     string
	State   string
	Stage   string
	Message string
	At      time.Time
}

// Append records one event synchronously. Failures are returned for the
// caller to log; the callbacks in cmd/loghoid log and ignore them, so a
// failed write never fails a collection job.
func (l *Log) Append(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, cvm, state, stage, message, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.JobID, ev.CVM, ev.State, ev.Stage, ev.Message, ev.At.UnixNano())
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// ForJob returns every event recorded for jobID, oldest first.
func (l *Log) ForJob(ctx context.Context, jobID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT job_id, cvm, state, stage, message, at
		FROM job_events WHERE job_id = ? ORDER BY at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("audit: query job events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at int64
		var message sql.NullString
		if err := rows.Scan(&ev.JobID, &ev.CVM, &ev.State, &ev.Stage, &message, &at); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev.Message = message.String
		ev.At = time.Unix(0, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Recent returns the most recent limit events across all jobs, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT job_id, cvm, state, stage, message, at
		FROM job_events ORDER BY at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at int64
		var message sql.NullString
		if err := rows.Scan(&ev.JobID, &ev.CVM, &ev.State, &ev.Stage, &message, &at); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev.Message = message.String
		ev.At = time.Unix(0, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
