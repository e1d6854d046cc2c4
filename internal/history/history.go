// Package history persists batch outcomes to a local SQLite database so
// past runs stay queryable after their scratch directories are purged.
// The store uses SQLite in WAL mode; external readers never block the
// recording writer.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// schema contains the DDL executed on every open. IF NOT EXISTS makes it
// safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id    TEXT NOT NULL,
    machine    TEXT NOT NULL DEFAULT '',
    compiler   TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    seconds    REAL NOT NULL DEFAULT 0,
    passed     INTEGER NOT NULL DEFAULT 0,
    failed     INTEGER NOT NULL DEFAULT 0,
    pending    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
    run_id   INTEGER NOT NULL,
    test     TEXT NOT NULL,
    status   TEXT NOT NULL,
    phase    TEXT NOT NULL,
    case_dir TEXT NOT NULL DEFAULT '',
    UNIQUE(run_id, test)
);

CREATE INDEX IF NOT EXISTS results_by_test ON results(test, run_id);
`

// Run is one recorded scheduler invocation.
type Run struct {
	ID        int64
	TestID    string
	Machine   string
	Compiler  string
	StartedAt time.Time
	Seconds   float64
	Passed    int
	Failed    int
	Pending   int
}

// Result is one test's final outcome within a run.
type Result struct {
	RunID   int64
	Test    string
	Status  teststatus.Status
	Phase   teststatus.Phase
	CaseDir string
}

// Outcome pairs a test's result with the run that produced it.
type Outcome struct {
	Run    Run
	Result Result
}

// Store records and queries run history in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath, creating parent
// directories as needed, and prepares the schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids SQLITE_BUSY
	// contention between pooled connections that each need their own PRAGMA
	// setup. WAL mode still lets external readers in during a write.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordRun stores one run and its per-test results in a single transaction
// and returns the run's id. The run's pass/fail/pending counts are derived
// from the results. Safe on a nil Store: recording is skipped.
func (s *Store) RecordRun(ctx context.Context, run Run, results []Result) (int64, error) {
	if s == nil {
		return 0, nil
	}

	for _, r := range results {
		switch r.Status {
		case teststatus.StatusPass:
			run.Passed++
		case teststatus.StatusPending:
			run.Pending++
		default:
			run.Failed++
		}
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (test_id, machine, compiler, started_at, seconds, passed, failed, pending)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TestID, run.Machine, run.Compiler,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Seconds, run.Passed, run.Failed, run.Pending)
	if err != nil {
		return 0, fmt.Errorf("history: insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, test, status, phase, case_dir) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("history: prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Test, string(r.Status), string(r.Phase), r.CaseDir); err != nil {
			return 0, fmt.Errorf("history: insert result %q: %w", r.Test, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit run: %w", err)
	}
	return runID, nil
}

// Runs returns the most recent runs, newest first. A non-positive limit
// returns everything.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	const q = `SELECT id, test_id, machine, compiler, started_at, seconds, passed, failed, pending
		FROM runs ORDER BY id DESC`
	if limit > 0 {
		return s.queryRuns(ctx, q+" LIMIT ?", limit)
	}
	return s.queryRuns(ctx, q)
}

// Results returns every test outcome of one run, in test-name order.
func (s *Store) Results(ctx context.Context, runID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, test, status, phase, case_dir FROM results WHERE run_id = ? ORDER BY test`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var status, phase string
		if err := rows.Scan(&r.RunID, &r.Test, &status, &phase, &r.CaseDir); err != nil {
			return nil, fmt.Errorf("history: scan result: %w", err)
		}
		r.Status = teststatus.Status(status)
		r.Phase = teststatus.Phase(phase)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate results: %w", err)
	}
	return results, nil
}

// TestHistory returns one test's outcomes across recent runs, newest first.
// A non-positive limit returns everything.
func (s *Store) TestHistory(ctx context.Context, test string, limit int) ([]Outcome, error) {
	q := `SELECT runs.id, runs.test_id, runs.machine, runs.compiler, runs.started_at,
			runs.seconds, runs.passed, runs.failed, runs.pending,
			results.test, results.status, results.phase, results.case_dir
		FROM results JOIN runs ON runs.id = results.run_id
		WHERE results.test = ? ORDER BY runs.id DESC`
	args := []any{test}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query test history: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var ts, status, phase string
		if err := rows.Scan(&o.Run.ID, &o.Run.TestID, &o.Run.Machine, &o.Run.Compiler, &ts,
			&o.Run.Seconds, &o.Run.Passed, &o.Run.Failed, &o.Run.Pending,
			&o.Result.Test, &status, &phase, &o.Result.CaseDir); err != nil {
			return nil, fmt.Errorf("history: scan test history: %w", err)
		}
		startedAt, parseErr := parseTimestamp(ts)
		if parseErr != nil {
			return nil, fmt.Errorf("history: parse run timestamp: %w", parseErr)
		}
		o.Run.StartedAt = startedAt
		o.Result.RunID = o.Run.ID
		o.Result.Status = teststatus.Status(status)
		o.Result.Phase = teststatus.Phase(phase)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate test history: %w", err)
	}
	return outcomes, nil
}

// queryRuns is a shared helper for scanning run rows.
func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ts string
		if err := rows.Scan(&r.ID, &r.TestID, &r.Machine, &r.Compiler, &ts,
			&r.Seconds, &r.Passed, &r.Failed, &r.Pending); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		startedAt, parseErr := parseTimestamp(ts)
		if parseErr != nil {
			return nil, fmt.Errorf("history: parse run timestamp: %w", parseErr)
		}
		r.StartedAt = startedAt
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return runs, nil
}

// timestampFormats lists the formats SQLite may hand back for a TIMESTAMP
// column. We write RFC 3339; canonical SQLite tooling writes the
// space-separated DateTime format.
var timestampFormats = []string{
	time.RFC3339,
	time.DateTime,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// Close releases the database connection. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
