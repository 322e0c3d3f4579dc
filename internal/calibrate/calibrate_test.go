package calibrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dsullivansr/process-orchestrator/internal/proc"
	"github.com/dsullivansr/process-orchestrator/internal/sampler"
)

type stubHandle struct {
	pid int

	mu   sync.Mutex
	done bool
}

func (h *stubHandle) PID() int { return h.pid }

func (h *stubHandle) Poll() (proc.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return proc.Status{}, h.done
}

func (h *stubHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	return nil
}

func (h *stubHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	return nil
}

type stubRunner struct {
	mu      sync.Mutex
	started int
	// exitEarly makes the probe look finished by the time it is polled,
	// for the first n starts.
	exitEarly int
}

func (r *stubRunner) Start(argv []string) (proc.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	h := &stubHandle{pid: 4000 + r.started}
	if r.started <= r.exitEarly {
		h.done = true
	}
	return h, nil
}

type stubSampler struct {
	snap sampler.ProcessSnapshot
	err  error
}

func (s stubSampler) System(context.Context) (sampler.Snapshot, error) {
	return sampler.Snapshot{}, nil
}

func (s stubSampler) Process(context.Context, int) (sampler.ProcessSnapshot, error) {
	return s.snap, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunMeasuresLiveProbe(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "probe.out")
	if err := os.WriteFile(out, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	c := &Calibrator{
		Runner:             &stubRunner{},
		Sampler:            stubSampler{snap: sampler.ProcessSnapshot{CPUPercent: 42.5, RSSBytes: 64 << 20}},
		Logger:             testLogger(),
		StabilizationDelay: 5 * time.Millisecond,
		TerminateGrace:     100 * time.Millisecond,
	}
	res, err := c.Run(context.Background(), []string{"/bin/tool", "a"}, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.CPUPercent != 42.5 {
		t.Errorf("cpu = %v, want 42.5", res.CPUPercent)
	}
	if res.RSSBytes != 64<<20 {
		t.Errorf("rss = %d", res.RSSBytes)
	}
	if res.OutputBytes != 2048 {
		t.Errorf("output bytes = %d, want 2048", res.OutputBytes)
	}
}

func TestRunRetriesOnceThenMeasures(t *testing.T) {
	runner := &stubRunner{exitEarly: 1}
	c := &Calibrator{
		Runner:             runner,
		Sampler:            stubSampler{snap: sampler.ProcessSnapshot{CPUPercent: 10, RSSBytes: 1 << 20}},
		Logger:             testLogger(),
		StabilizationDelay: 5 * time.Millisecond,
		TerminateGrace:     100 * time.Millisecond,
	}
	res, err := c.Run(context.Background(), []string{"/bin/tool"}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.started != 2 {
		t.Errorf("started %d probes, want 2 (one retry)", runner.started)
	}
	if res.CPUPercent != 10 {
		t.Errorf("cpu = %v", res.CPUPercent)
	}
}

func TestRunUnstableAfterRetry(t *testing.T) {
	runner := &stubRunner{exitEarly: 2}
	c := &Calibrator{
		Runner:             runner,
		Sampler:            stubSampler{},
		Logger:             testLogger(),
		StabilizationDelay: 5 * time.Millisecond,
		TerminateGrace:     100 * time.Millisecond,
	}
	_, err := c.Run(context.Background(), []string{"/bin/tool"}, "")
	if !errors.Is(err, ErrUnstable) {
		t.Fatalf("err = %v, want ErrUnstable", err)
	}
	if runner.started != 2 {
		t.Errorf("started %d probes, want exactly 2", runner.started)
	}
}

func TestRunUsesFallbackOutputBytes(t *testing.T) {
	c := &Calibrator{
		Runner:              &stubRunner{},
		Sampler:             stubSampler{snap: sampler.ProcessSnapshot{CPUPercent: 1, RSSBytes: 1024}},
		Logger:              testLogger(),
		StabilizationDelay:  5 * time.Millisecond,
		FallbackOutputBytes: 4096,
		TerminateGrace:      100 * time.Millisecond,
	}
	res, err := c.Run(context.Background(), []string{"/bin/tool"}, filepath.Join(t.TempDir(), "never-written.out"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.OutputBytes != 4096 {
		t.Errorf("output bytes = %d, want fallback 4096", res.OutputBytes)
	}
}

func TestRunSamplerErrorsPropagate(t *testing.T) {
	wantErr := errors.New("permission denied")
	c := &Calibrator{
		Runner:             &stubRunner{},
		Sampler:            stubSampler{err: wantErr},
		Logger:             testLogger(),
		StabilizationDelay: 5 * time.Millisecond,
		TerminateGrace:     100 * time.Millisecond,
	}
	_, err := c.Run(context.Background(), []string{"/bin/tool"}, "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Calibrator{
		Runner:             &stubRunner{},
		Sampler:            stubSampler{},
		Logger:             testLogger(),
		StabilizationDelay: time.Hour,
		TerminateGrace:     100 * time.Millisecond,
	}
	_, err := c.Run(ctx, []string{"/bin/tool"}, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
