// internal/proc/runner.go
//
// Thin capability layer over os/exec. The scheduler and calibrator only
// need to start an argv, poll it for exit without blocking, and send it the
// graceful-then-forceful termination sequence; expressing that as an
// interface keeps both of them testable without spawning real processes.

package proc

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// Status describes a finished process.
type Status struct {
	ExitCode int
	Err      error
}

// Handle supervises one started process.
type Handle interface {
	PID() int
	// Poll reports whether the process has exited, and its status if so.
	// It never blocks.
	Poll() (Status, bool)
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process (SIGKILL).
	Kill() error
}

// Runner starts processes. The production implementation execs directly,
// never through a shell, so template tokens reach the binary verbatim.
type Runner interface {
	Start(argv []string) (Handle, error)
}

// ExecRunner is the os/exec-backed Runner.
type ExecRunner struct{}

// Start launches argv[0] with the remaining arguments. Stdout and stderr
// are discarded; workers communicate through their output files.
func (ExecRunner) Start(argv []string) (Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("proc: empty argument vector")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proc: start %s: %w", argv[0], err)
	}
	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	status Status
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()
	status := Status{}
	switch e := err.(type) {
	case nil:
	case *exec.ExitError:
		status.ExitCode = e.ExitCode()
	default:
		status.ExitCode = -1
		status.Err = err
	}
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	close(h.done)
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Poll() (Status, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, true
	default:
		return Status{}, false
	}
}

func (h *execHandle) Terminate() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	return h.cmd.Process.Kill()
}
