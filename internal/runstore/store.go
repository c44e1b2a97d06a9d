// Package runstore keeps a history of runs and their per-test outcomes in
// SQLite.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/crucible-runner/internal/report"
	"github.com/hochfrequenz/crucible-runner/internal/testcase"
)

// OutcomeLost marks a test that was dispatched but never answered
const OutcomeLost = "lost"

// ErrRunNotFound is returned for an unknown run id
var ErrRunNotFound = errors.New("runstore: run not found")

// Run is one stored invocation of the runner
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Totals     report.Totals
	Interrupt  string // "", "cancel" or "abort"
	Flags      string // encoded behavior flags
}

// Result is the stored outcome of one test
type Result struct {
	TestID  uint64
	Name    string
	Outcome string // pass, fail, skip or lost
	Elapsed time.Duration
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run that has just started
func (s *Store) CreateRun(run *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, total, flags)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.Totals.Total, run.Flags)
	return err
}

// SetInterrupt records the latest interrupt stage of a run
func (s *Store) SetInterrupt(runID, stage string) error {
	_, err := s.db.Exec(`UPDATE runs SET interrupt = ? WHERE id = ?`, stage, runID)
	return err
}

// FinishRun stores the final counters of a run
func (s *Store) FinishRun(runID string, totals report.Totals, finishedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, total = ?, passed = ?, failed = ?, skipped = ?, lost = ?
		WHERE id = ?
	`, finishedAt.UTC(), totals.Total, totals.Passed, totals.Failed, totals.Skipped, totals.Lost, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// AddResult appends one test outcome to a run
func (s *Store) AddResult(runID string, r Result) error {
	_, err := s.db.Exec(`
		INSERT INTO results (run_id, test_id, name, outcome, elapsed_ms)
		VALUES (?, ?, ?, ?, ?)
	`, runID, int64(r.TestID), r.Name, r.Outcome, r.Elapsed.Milliseconds())
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, total, passed, failed, skipped, lost, interrupt, flags
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT id, started_at, finished_at, total, passed, failed, skipped, lost, interrupt, flags
		FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetResults returns the outcomes of a run in the order they were recorded
func (s *Store) GetResults(runID string) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT test_id, name, outcome, elapsed_ms
		FROM results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var testID, elapsedMS int64
		if err := rows.Scan(&testID, &r.Name, &r.Outcome, &elapsedMS); err != nil {
			return nil, err
		}
		r.TestID = uint64(testID)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

// FailingTests returns the names of tests that failed or were lost in a run
func (s *Store) FailingTests(runID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM results WHERE run_id = ? AND outcome IN (?, ?) ORDER BY id
	`, runID, testcase.Fail.String(), OutcomeLost)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	var interrupt, flags sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &finished,
		&run.Totals.Total, &run.Totals.Passed, &run.Totals.Failed, &run.Totals.Skipped, &run.Totals.Lost,
		&interrupt, &flags)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.Interrupt = interrupt.String
	run.Flags = flags.String
	return &run, nil
}
