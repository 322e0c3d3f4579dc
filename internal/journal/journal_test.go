package journal

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
)

func openTestStore(t *testing.T, runID string) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), runID,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJournalRoundTrip(t *testing.T) {
	store := openTestStore(t, "run-1")

	store.ItemFinished(scheduler.ItemResult{
		Input:    "/in/a.txt",
		Output:   "/out/a.txt.copy",
		State:    scheduler.StateCompleted,
		Attempts: 1,
		Duration: 1500 * time.Millisecond,
	})
	store.ItemFinished(scheduler.ItemResult{
		Input:    "/in/b.txt",
		Output:   "/out/b.txt.copy",
		State:    scheduler.StateFailed,
		Reason:   scheduler.ReasonExitNonZero,
		Detail:   "exit status 3",
		Retries:  2,
		Attempts: 3,
	})
	store.RunFinished(scheduler.Summary{Completed: 1, Failed: 1})

	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].Completed != 1 || runs[0].Failed != 1 {
		t.Errorf("run row = %+v", runs[0])
	}
	if runs[0].FinishedAt.Before(runs[0].StartedAt) {
		t.Errorf("finished_at %v before started_at %v", runs[0].FinishedAt, runs[0].StartedAt)
	}

	items, err := store.Items("run-1")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Input != "/in/a.txt" || items[0].State != scheduler.StateCompleted {
		t.Errorf("first item = %+v", items[0])
	}
	if items[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", items[0].Duration)
	}
	if items[1].Reason != scheduler.ReasonExitNonZero || items[1].Detail != "exit status 3" {
		t.Errorf("second item = %+v", items[1])
	}
	if items[1].Retries != 2 || items[1].Attempts != 3 {
		t.Errorf("second item counters = %+v", items[1])
	}
}

func TestRunsToleratesUnfinishedRun(t *testing.T) {
	store := openTestStore(t, "run-open")
	store.ItemFinished(scheduler.ItemResult{Input: "/in/a", Output: "/out/a", State: scheduler.StateCompleted})

	// No RunFinished: finished_at is still NULL in the runs table.
	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if !runs[0].FinishedAt.Equal(runs[0].StartedAt) {
		t.Errorf("unfinished run should report finished_at = started_at, got %v / %v",
			runs[0].FinishedAt, runs[0].StartedAt)
	}
}

func TestJournalIsolatesRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := Open(path, "run-a", logger)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	first.ItemFinished(scheduler.ItemResult{Input: "/in/a", Output: "/out/a", State: scheduler.StateCompleted})
	first.RunFinished(scheduler.Summary{Completed: 1})
	first.Close()

	second, err := Open(path, "run-b", logger)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	defer second.Close()
	second.ItemFinished(scheduler.ItemResult{Input: "/in/b", Output: "/out/b", State: scheduler.StateTerminated, Reason: scheduler.ReasonShutdown})

	items, err := second.Items("run-b")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 || items[0].Input != "/in/b" {
		t.Fatalf("run-b items = %+v", items)
	}

	runs, err := second.Runs(10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}
