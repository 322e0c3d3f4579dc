// internal/calibrate/calibrate.go
//
// One-shot measurement of a representative worker process. The probe runs
// through the same argv builder as real work, gets a stabilization delay so
// start-up transients do not bias the reading, and is sampled once. The
// result feeds the capacity planner for the rest of the run; there is no
// implicit re-calibration.

package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dsullivansr/process-orchestrator/internal/proc"
	"github.com/dsullivansr/process-orchestrator/internal/sampler"
)

// ErrUnstable means the probe never stayed alive long enough to measure,
// even after the one retry with a longer delay. Callers fall back to the
// statically configured ceiling rather than aborting.
var ErrUnstable = errors.New("calibrate: probe finished before a sample could be taken")

// Result is the measured per-process footprint.
type Result struct {
	CPUPercent  float64
	RSSBytes    uint64
	OutputBytes int64
}

// Calibrator runs the probe. All fields except Runner and Sampler have
// working zero-value fallbacks.
type Calibrator struct {
	Runner  proc.Runner
	Sampler sampler.Sampler
	Logger  *slog.Logger

	// StabilizationDelay is how long the probe runs before sampling.
	StabilizationDelay time.Duration
	// FallbackOutputBytes estimates the per-process output size when the
	// probe produced no measurable output file.
	FallbackOutputBytes int64
	// TerminateGrace bounds how long a still-running probe gets between
	// SIGTERM and SIGKILL once sampling is done.
	TerminateGrace time.Duration
}

// Run spawns one probe process from argv, samples its footprint, and sizes
// its output file at outputPath. The probe is reaped before Run returns:
// allowed to finish naturally when it exits during measurement, terminated
// otherwise.
func (c *Calibrator) Run(ctx context.Context, argv []string, outputPath string) (Result, error) {
	logger := c.logger()
	delay := c.StabilizationDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	snap, err := c.attempt(ctx, argv, delay)
	if errors.Is(err, sampler.ErrProcessGone) {
		// The probe exited before the sample; one more try with a longer
		// settle window in case the first start raced warm-up work.
		logger.Warn("calibrate.retry", "delay", (2 * delay).String())
		snap, err = c.attempt(ctx, argv, 2*delay)
	}
	if errors.Is(err, sampler.ErrProcessGone) {
		return Result{}, ErrUnstable
	}
	if err != nil {
		return Result{}, err
	}

	result := Result{
		CPUPercent:  snap.CPUPercent,
		RSSBytes:    snap.RSSBytes,
		OutputBytes: c.outputSize(outputPath),
	}
	logger.Info("calibrate.done",
		"cpu_percent", result.CPUPercent,
		"rss_bytes", result.RSSBytes,
		"output_bytes", result.OutputBytes,
	)
	return result, nil
}

// attempt runs one probe process and samples it after the delay.
func (c *Calibrator) attempt(ctx context.Context, argv []string, delay time.Duration) (sampler.ProcessSnapshot, error) {
	handle, err := c.Runner.Start(argv)
	if err != nil {
		return sampler.ProcessSnapshot{}, fmt.Errorf("calibrate: start probe: %w", err)
	}
	defer c.reap(handle)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return sampler.ProcessSnapshot{}, ctx.Err()
	case <-timer.C:
	}

	if _, done := handle.Poll(); done {
		return sampler.ProcessSnapshot{}, fmt.Errorf("calibrate: %w", sampler.ErrProcessGone)
	}
	return c.Sampler.Process(ctx, handle.PID())
}

// reap ends a probe that is still running: graceful signal, bounded wait,
// then kill.
func (c *Calibrator) reap(handle proc.Handle) {
	if _, done := handle.Poll(); done {
		return
	}
	grace := c.TerminateGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if err := handle.Terminate(); err != nil {
		c.logger().Warn("calibrate.terminate_failed", "pid", handle.PID(), "err", err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, done := handle.Poll(); done {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = handle.Kill()
}

// outputSize measures the probe's output file, falling back to the
// configured constant when the run produced nothing measurable.
func (c *Calibrator) outputSize(outputPath string) int64 {
	if outputPath != "" {
		if info, err := os.Stat(outputPath); err == nil && info.Size() > 0 {
			return info.Size()
		}
	}
	return c.FallbackOutputBytes
}

func (c *Calibrator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
