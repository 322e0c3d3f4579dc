package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
)

func newTestExporter() *Exporter {
	return New("test-run", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOnCountersSetsGauges(t *testing.T) {
	e := newTestExporter()
	e.OnCounters(scheduler.Counters{Running: 3, Pending: 7, Ceiling: 4})

	if got := testutil.ToFloat64(e.running); got != 3 {
		t.Errorf("running = %v, want 3", got)
	}
	if got := testutil.ToFloat64(e.pending); got != 7 {
		t.Errorf("pending = %v, want 7", got)
	}
	if got := testutil.ToFloat64(e.ceiling); got != 4 {
		t.Errorf("ceiling = %v, want 4", got)
	}
}

func TestItemFinishedCountsByState(t *testing.T) {
	e := newTestExporter()
	e.ItemFinished(scheduler.ItemResult{State: scheduler.StateCompleted})
	e.ItemFinished(scheduler.ItemResult{State: scheduler.StateCompleted})
	e.ItemFinished(scheduler.ItemResult{State: scheduler.StateFailed})

	if got := testutil.ToFloat64(e.items.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(e.items.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	e := newTestExporter()
	if err := e.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}()

	e.OnCounters(scheduler.Counters{Running: 2, Ceiling: 2})

	resp, err := http.Get("http://" + e.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "orchestrator_running_processes") {
		t.Errorf("metrics output missing running gauge:\n%s", text)
	}
	if !strings.Contains(text, `run="test-run"`) {
		t.Errorf("metrics output missing run label:\n%s", text)
	}
}
