// internal/journal/journal.go
//
// Sqlite-backed run journal. Every work item that reaches a terminal state
// becomes one row, and every run gets a summary row, so operators can ask
// what happened to a given input file across past runs.

package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	completed   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	terminated  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS items (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	state       TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT NOT NULL,
	retries     INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_run_id ON items(run_id);
`

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Terminated int
}

// Store journals one run. It implements scheduler.EventSink; sink calls
// never fail the run, they log and move on.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	runID  string
}

// Open opens (creating if needed) the journal database at path and starts a
// run row under runID.
func Open(path, runID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: start run %s: %w", runID, err)
	}
	return &Store{db: db, logger: logger, runID: runID}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ItemFinished records one terminal work item.
func (s *Store) ItemFinished(res scheduler.ItemResult) {
	_, err := s.db.Exec(
		`INSERT INTO items (run_id, input, output, state, reason, detail, retries, attempts, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, res.Input, res.Output, string(res.State), string(res.Reason),
		res.Detail, res.Retries, res.Attempts, res.Duration.Milliseconds(),
	)
	if err != nil {
		s.logger.Warn("journal.item_write_failed", "input", res.Input, "err", err)
	}
}

// RunFinished finalizes the run row with the aggregate counts.
func (s *Store) RunFinished(sum scheduler.Summary) {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, completed = ?, failed = ?, terminated = ? WHERE id = ?`,
		time.Now().UTC(), sum.Completed, sum.Failed, sum.Terminated, s.runID,
	)
	if err != nil {
		s.logger.Warn("journal.run_write_failed", "run", s.runID, "err", err)
	}
}

// Runs returns the most recent run rows, newest first.
func (s *Store) Runs(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, completed, failed, terminated
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &finished,
			&rec.Completed, &rec.Failed, &rec.Terminated); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		// A run that never reached RunFinished has no finish time; report
		// the start time rather than the zero value.
		rec.FinishedAt = rec.StartedAt
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Items returns the terminal item rows for one run in insertion order.
func (s *Store) Items(runID string) ([]scheduler.ItemResult, error) {
	rows, err := s.db.Query(
		`SELECT input, output, state, reason, detail, retries, attempts, duration_ms
		 FROM items WHERE run_id = ? ORDER BY rowid`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query items: %w", err)
	}
	defer rows.Close()

	var results []scheduler.ItemResult
	for rows.Next() {
		var res scheduler.ItemResult
		var state, reason string
		var durationMS int64
		if err := rows.Scan(&res.Input, &res.Output, &state, &reason,
			&res.Detail, &res.Retries, &res.Attempts, &durationMS); err != nil {
			return nil, fmt.Errorf("journal: scan item: %w", err)
		}
		res.State = scheduler.ItemState(state)
		res.Reason = scheduler.FailureReason(reason)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, res)
	}
	return results, rows.Err()
}
