// internal/scheduler/scheduler.go
//
// The coordinating loop. One goroutine owns the pending queue, the table of
// in-flight processes, and the current ceiling; everything else is called
// from the tick and only ever returns values. True parallelism comes from
// the worker processes themselves.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dsullivansr/process-orchestrator/internal/capacity"
	"github.com/dsullivansr/process-orchestrator/internal/command"
	"github.com/dsullivansr/process-orchestrator/internal/proc"
	"github.com/dsullivansr/process-orchestrator/internal/sampler"
)

// Config tunes the loop. Zero values get sensible defaults from New.
type Config struct {
	Binary string
	Flags  []string

	TickInterval time.Duration
	PlanInterval time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	ShutdownGrace time.Duration
	// RequireOutput makes a zero exit status insufficient on its own: the
	// output file must exist and be non-empty.
	RequireOutput bool
}

// Deps are the scheduler's collaborators. Runner, Sampler, and Planner are
// capability interfaces; any implementation can be substituted.
type Deps struct {
	Runner  proc.Runner
	Sampler sampler.Sampler
	Planner capacity.Planner
	Logger  *slog.Logger
	Sinks   []EventSink
	// OnCounters, when set, receives the live counter snapshot once per
	// tick. Telemetry exporters hook in here.
	OnCounters func(Counters)
}

type inflight struct {
	item   *WorkItem
	handle proc.Handle
}

// Scheduler admits work up to the current ceiling, supervises running
// processes, applies the retry policy, and reports terminal state per item.
type Scheduler struct {
	cfg     Config
	runner  proc.Runner
	sampler sampler.Sampler
	planner capacity.Planner
	logger  *slog.Logger
	sinks   multiSink
	onTick  func(Counters)

	pending []*WorkItem
	running []*inflight
	results []ItemResult

	completed  int
	failed     int
	terminated int

	ceiling  int
	lastPlan time.Time

	now func() time.Time
}

// New builds a scheduler. Items are enqueued separately so the caller can
// seed pre-completed entries (the calibration probe) before Run.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.PlanInterval <= 0 {
		cfg.PlanInterval = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if deps.Runner == nil {
		deps.Runner = proc.ExecRunner{}
	}
	if deps.Planner == nil {
		deps.Planner = capacity.StaticPlanner{Ceiling: 1}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  deps.Runner,
		sampler: deps.Sampler,
		planner: deps.Planner,
		logger:  deps.Logger,
		sinks:   multiSink(deps.Sinks),
		onTick:  deps.OnCounters,
		now:     time.Now,
	}
}

// Enqueue adds one pending work item. Call before Run; the queue is
// admitted first-in-first-out.
func (s *Scheduler) Enqueue(input, output string) {
	s.pending = append(s.pending, &WorkItem{
		Input:  input,
		Output: output,
		State:  StatePending,
	})
}

// SeedCompleted records an item that finished outside the pool, such as the
// calibration probe's output when it counts toward the run.
func (s *Scheduler) SeedCompleted(input, output string) {
	item := &WorkItem{
		Input:    input,
		Output:   output,
		State:    StateCompleted,
		Attempts: 1,
	}
	s.finishItem(item)
}

// Run drives ticks until every item is terminal or ctx is cancelled. On
// cancellation all running processes get the graceful-then-forceful
// termination sequence and pending items are marked terminated. The summary
// is always returned; the caller decides the exit status.
func (s *Scheduler) Run(ctx context.Context) Summary {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

loop:
	for {
		if ctx.Err() != nil {
			s.shutdown()
			break
		}
		s.Tick(ctx)
		if len(s.pending) == 0 && len(s.running) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			break loop
		case <-ticker.C:
		}
	}

	sum := s.summary()
	s.sinks.RunFinished(sum)
	s.logger.Info("scheduler.done",
		"completed", sum.Completed,
		"failed", sum.Failed,
		"terminated", sum.Terminated,
	)
	return sum
}

// Tick runs one iteration: supervise running processes, refresh the ceiling
// if the plan interval elapsed, then admit pending work. The ceiling is
// read once and never recomputed mid-tick, so every admission decision in a
// tick sees the same snapshot.
func (s *Scheduler) Tick(ctx context.Context) {
	s.poll()
	s.replan(ctx)
	s.admit()
	if s.onTick != nil {
		s.onTick(s.Counters())
	}
}

// Counters returns the live counter snapshot.
func (s *Scheduler) Counters() Counters {
	return Counters{
		Pending:    len(s.pending),
		Running:    len(s.running),
		Completed:  s.completed,
		Failed:     s.failed,
		Terminated: s.terminated,
		Ceiling:    s.ceiling,
	}
}

// poll reaps every running process that has exited.
func (s *Scheduler) poll() {
	kept := s.running[:0]
	for _, fl := range s.running {
		status, done := fl.handle.Poll()
		if !done {
			kept = append(kept, fl)
			continue
		}
		s.handleExit(fl.item, status)
	}
	s.running = kept
}

func (s *Scheduler) handleExit(item *WorkItem, status proc.Status) {
	item.duration = s.now().Sub(item.startedAt)
	switch {
	case status.Err != nil:
		s.fail(item, ReasonExitNonZero, status.Err.Error())
	case status.ExitCode != 0:
		s.fail(item, ReasonExitNonZero, fmt.Sprintf("exit status %d", status.ExitCode))
	case s.cfg.RequireOutput && !outputUsable(item.Output):
		// The binary claimed success but produced nothing we can use;
		// report it distinctly from a non-zero exit.
		s.fail(item, ReasonOutputMissing, item.Output)
	default:
		item.transition(StateCompleted)
		// A retried item may carry the reason from an earlier attempt.
		item.Reason = ReasonNone
		item.detail = ""
		s.finishItem(item)
	}
}

// fail applies the retry policy. Unreadable inputs are never retried; a
// rerun cannot make the file appear.
func (s *Scheduler) fail(item *WorkItem, reason FailureReason, detail string) {
	item.transition(StateFailed)
	item.Reason = reason
	item.detail = detail

	if reason != ReasonInputUnreadable && item.Retries < s.cfg.MaxRetries {
		item.Retries++
		delay := s.backoff(item.Retries)
		item.NotBefore = s.now().Add(delay)
		item.transition(StatePending)
		// Back of the queue so retries never starve fresh work.
		s.pending = append(s.pending, item)
		s.logger.Warn("scheduler.retry",
			"input", item.Input,
			"reason", string(reason),
			"retry", item.Retries,
			"delay", delay.String(),
		)
		return
	}
	s.finishItem(item)
}

func (s *Scheduler) backoff(retries int) time.Duration {
	delay := s.cfg.BaseDelay
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	return delay
}

// replan refreshes the ceiling once PlanInterval has elapsed. Sampling
// trouble keeps the last known good ceiling instead of stalling the tick.
func (s *Scheduler) replan(ctx context.Context) {
	if !s.lastPlan.IsZero() && s.now().Sub(s.lastPlan) < s.cfg.PlanInterval {
		return
	}
	s.lastPlan = s.now()

	var snap sampler.Snapshot
	if s.sampler != nil {
		var err error
		snap, err = s.sampler.System(ctx)
		if err != nil {
			s.logger.Warn("scheduler.sample_failed", "err", err)
			if s.ceiling > 0 {
				return
			}
			snap = sampler.Snapshot{}
		}
	}
	ceiling := s.planner.Plan(snap)
	if ceiling < 1 {
		ceiling = 1
	}
	if ceiling != s.ceiling {
		s.logger.Info("scheduler.ceiling", "from", s.ceiling, "to", ceiling)
	}
	s.ceiling = ceiling
}

// admit starts pending work while there is headroom. Items still inside
// their backoff window stay queued in place. The queue is detached during
// the sweep because a failed spawn may re-enqueue its item mid-loop.
func (s *Scheduler) admit() {
	now := s.now()
	queue := s.pending
	s.pending = nil
	var kept []*WorkItem
	for i, item := range queue {
		if len(s.running) >= s.ceiling {
			kept = append(kept, queue[i:]...)
			break
		}
		if item.NotBefore.After(now) {
			kept = append(kept, item)
			continue
		}
		s.start(item)
	}
	// Items re-enqueued by the retry policy during this sweep go behind the
	// not-yet-admitted remainder.
	s.pending = append(kept, s.pending...)
}

func (s *Scheduler) start(item *WorkItem) {
	if err := readable(item.Input); err != nil {
		s.fail(item, ReasonInputUnreadable, err.Error())
		return
	}
	argv, err := command.BuildArgv(s.cfg.Binary, s.cfg.Flags, item.Input, item.Output)
	if err != nil {
		s.fail(item, ReasonSpawnFailed, err.Error())
		return
	}
	handle, err := s.runner.Start(argv)
	if err != nil {
		s.fail(item, ReasonSpawnFailed, err.Error())
		return
	}
	item.transition(StateRunning)
	item.Attempts++
	item.startedAt = s.now()
	s.running = append(s.running, &inflight{item: item, handle: handle})
	s.logger.Info("scheduler.started",
		"input", item.Input,
		"pid", handle.PID(),
		"attempt", item.Attempts,
	)
}

// shutdown terminates in-flight work and drains the queue. Processes that
// already exited are classified normally first, so a worker finishing in
// the same instant as the stop signal still counts as completed.
func (s *Scheduler) shutdown() {
	s.logger.Info("scheduler.shutdown", "running", len(s.running), "pending", len(s.pending))
	s.poll()

	for _, fl := range s.running {
		if err := fl.handle.Terminate(); err != nil {
			s.logger.Warn("scheduler.terminate_failed", "pid", fl.handle.PID(), "err", err)
		}
	}
	// Once the termination signal went out, every exit in the grace window
	// is reported as Terminated, never as a retryable failure.
	deadline := s.now().Add(s.cfg.ShutdownGrace)
	for len(s.running) > 0 && s.now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		s.reapTerminated()
	}
	for _, fl := range s.running {
		_ = fl.handle.Kill()
		s.terminateItem(fl.item)
	}
	s.running = nil

	for _, item := range s.pending {
		item.transition(StateTerminated)
		item.Reason = ReasonShutdown
		s.finishItem(item)
	}
	s.pending = nil
}

// reapTerminated collects signaled processes as they exit during the grace
// window.
func (s *Scheduler) reapTerminated() {
	kept := s.running[:0]
	for _, fl := range s.running {
		if _, done := fl.handle.Poll(); !done {
			kept = append(kept, fl)
			continue
		}
		s.terminateItem(fl.item)
	}
	s.running = kept
}

func (s *Scheduler) terminateItem(item *WorkItem) {
	item.duration = s.now().Sub(item.startedAt)
	item.transition(StateTerminated)
	item.Reason = ReasonShutdown
	s.finishItem(item)
}

// finishItem records a terminal item and notifies the sinks.
func (s *Scheduler) finishItem(item *WorkItem) {
	switch item.State {
	case StateCompleted:
		s.completed++
	case StateFailed:
		s.failed++
	case StateTerminated:
		s.terminated++
	}
	res := item.result()
	s.results = append(s.results, res)
	s.sinks.ItemFinished(res)
	s.logger.Info("scheduler.item_finished",
		"input", res.Input,
		"state", string(res.State),
		"reason", string(res.Reason),
		"retries", res.Retries,
	)
}

func (s *Scheduler) summary() Summary {
	return Summary{
		Completed:  s.completed,
		Failed:     s.failed,
		Terminated: s.terminated,
		Items:      s.results,
	}
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func outputUsable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
