// cmd/orchestrator/main.go
//
// CLI wrapper around the orchestration core. Exit codes: 0 when every file
// completed, 1 when any file failed or was terminated, 2 for configuration
// errors detected before anything spawned.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dsullivansr/process-orchestrator/internal/calibrate"
	"github.com/dsullivansr/process-orchestrator/internal/capacity"
	"github.com/dsullivansr/process-orchestrator/internal/command"
	"github.com/dsullivansr/process-orchestrator/internal/config"
	"github.com/dsullivansr/process-orchestrator/internal/journal"
	"github.com/dsullivansr/process-orchestrator/internal/logging"
	"github.com/dsullivansr/process-orchestrator/internal/proc"
	"github.com/dsullivansr/process-orchestrator/internal/report"
	"github.com/dsullivansr/process-orchestrator/internal/sampler"
	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
	"github.com/dsullivansr/process-orchestrator/internal/telemetry"
)

const (
	exitFailures    = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

// run carries the whole flow so deferred cleanup (journal close, telemetry
// shutdown) executes before the process exits.
func run() int {
	configPath := flag.String("config", "", "path to the YAML job spec (required)")
	inputFileList := flag.String("input-file-list", "", "path to the input file list (overrides the job spec)")
	outputDir := flag.String("output-dir", "", "output directory (overrides the job spec)")
	maxProcesses := flag.Int("max-processes", 0, "cap on concurrent processes (overrides the job spec)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	metricsAddr := flag.String("metrics-addr", "", "listen address for the Prometheus endpoint (overrides the job spec)")
	journalPath := flag.String("journal", "", "path to the sqlite run journal (overrides the job spec)")
	flag.Parse()

	if *configPath == "" {
		return fail(exitConfigError, "--config is required")
	}

	logger, err := logging.New(os.Stderr, *logLevel)
	if err != nil {
		return fail(exitConfigError, "%v", err)
	}

	cfg, err := config.LoadWithOverrides(*configPath, config.Overrides{
		InputFileList: *inputFileList,
		OutputDir:     *outputDir,
		MaxProcesses:  *maxProcesses,
		MetricsAddr:   *metricsAddr,
		JournalPath:   *journalPath,
	})
	if err != nil {
		return fail(exitConfigError, "load config: %v", err)
	}

	// Template problems are configuration errors; surface them before any
	// work begins rather than on the first admission.
	if _, err := command.BuildArgv(cfg.Binary.Path, cfg.Binary.Flags, "probe-in", "probe-out"); err != nil {
		return fail(exitConfigError, "validate flag template: %v", err)
	}

	inputs, err := config.ReadInputList(cfg.Directories.InputFileList)
	if err != nil {
		return fail(exitConfigError, "read input list: %v", err)
	}
	for _, dir := range inputDirs(inputs) {
		if err := command.ValidateSameDir(cfg.Directories, dir); err != nil {
			return fail(exitConfigError, "%v", err)
		}
	}
	assignments, err := command.PlanOutputs(cfg.Directories, inputs)
	if err != nil {
		return fail(exitConfigError, "plan outputs: %v", err)
	}

	runID := uuid.NewString()
	logger.Info("orchestrator.start", "run", runID, "inputs", len(assignments))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := proc.ExecRunner{}
	sysSampler := sampler.New(cfg.Directories.OutputDir)

	planner, calibrated := plan(ctx, cfg, assignments, runner, sysSampler, logger)

	var sinks []scheduler.EventSink
	var onCounters func(scheduler.Counters)

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path, runID, logger)
		if err != nil {
			return fail(exitConfigError, "open journal: %v", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	if cfg.Telemetry.MetricsAddr != "" {
		exporter := telemetry.New(runID, logger)
		if err := exporter.Start(cfg.Telemetry.MetricsAddr); err != nil {
			return fail(exitConfigError, "start telemetry: %v", err)
		}
		defer exporter.Shutdown(context.Background())
		sinks = append(sinks, exporter)
		onCounters = exporter.OnCounters
	}

	sched := scheduler.New(scheduler.Config{
		Binary:        cfg.Binary.Path,
		Flags:         cfg.Binary.Flags,
		TickInterval:  cfg.Scheduler.TickInterval.Std(),
		PlanInterval:  cfg.Resources.PlanInterval.Std(),
		MaxRetries:    cfg.MaxRetries(),
		BaseDelay:     cfg.Retry.BaseDelay.Std(),
		MaxDelay:      cfg.Retry.MaxDelay.Std(),
		ShutdownGrace: cfg.Scheduler.ShutdownGrace.Std(),
		RequireOutput: cfg.RequireOutput(),
	}, scheduler.Deps{
		Runner:     runner,
		Sampler:    sysSampler,
		Planner:    planner,
		Logger:     logger,
		Sinks:      sinks,
		OnCounters: onCounters,
	})

	for i, a := range assignments {
		if calibrated && i == 0 && cfg.CalibrationCounts() {
			sched.SeedCompleted(a.Input, a.Output)
			continue
		}
		sched.Enqueue(a.Input, a.Output)
	}

	started := time.Now()
	sum := sched.Run(ctx)
	fmt.Print(report.Render(sum, time.Since(started)))

	if !sum.AllCompleted() {
		return exitFailures
	}
	return 0
}

// plan runs calibration when enabled and picks the planner. Calibration
// failure is a degraded mode, not an error: the run continues against the
// statically configured ceiling. The second return reports whether the
// first assignment's output was produced by a successful probe.
func plan(
	ctx context.Context,
	cfg *config.Config,
	assignments []command.Assignment,
	runner proc.Runner,
	sys sampler.Sampler,
	logger *slog.Logger,
) (capacity.Planner, bool) {
	static := capacity.StaticPlanner{Ceiling: cfg.Resources.MaxProcesses}
	if !cfg.CalibrationEnabled() || len(assignments) == 0 {
		return static, false
	}

	probe := assignments[0]
	argv, err := command.BuildArgv(cfg.Binary.Path, cfg.Binary.Flags, probe.Input, probe.Output)
	if err != nil {
		logger.Warn("calibrate.skip", "err", err)
		return static, false
	}
	cal := &calibrate.Calibrator{
		Runner:              runner,
		Sampler:             sys,
		Logger:              logger,
		StabilizationDelay:  cfg.Calibration.StabilizationDelay.Std(),
		FallbackOutputBytes: cfg.Calibration.FallbackOutputBytes,
		TerminateGrace:      cfg.Scheduler.ShutdownGrace.Std(),
	}
	result, err := cal.Run(ctx, argv, probe.Output)
	if err != nil {
		if errors.Is(err, calibrate.ErrUnstable) {
			logger.Warn("calibrate.unstable", "fallback_ceiling", cfg.Resources.MaxProcesses)
		} else {
			logger.Warn("calibrate.failed", "err", err)
		}
		return static, false
	}
	logger.Info("calibrate.result",
		"cpu_percent", result.CPUPercent,
		"rss_bytes", result.RSSBytes,
		"output_bytes", result.OutputBytes,
	)
	planner := capacity.FootprintPlanner{
		Footprint: result,
		Thresholds: capacity.Thresholds{
			CPUPercent:    cfg.Resources.CPUPercent,
			MemoryPercent: cfg.Resources.MemoryPercent,
			DiskPercent:   cfg.Resources.DiskPercent,
		},
		Min: cfg.Resources.MinProcesses,
		Max: cfg.Resources.MaxProcesses,
	}
	probeProduced := outputExists(probe.Output)
	return planner, probeProduced
}

func inputDirs(inputs []string) []string {
	seen := make(map[string]struct{}, len(inputs))
	var dirs []string
	for _, input := range inputs {
		dir := filepath.Dir(input)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

func outputExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func fail(code int, format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return code
}
