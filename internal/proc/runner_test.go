package proc

import (
	"os"
	"testing"
	"time"
)

func requireBinary(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("no %s on this system: %v", path, err)
	}
}

func waitExit(t *testing.T, h Handle, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status, done := h.Poll(); done {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %d did not exit within %v", h.PID(), timeout)
	return Status{}
}

func TestStartRejectsEmptyArgv(t *testing.T) {
	if _, err := (ExecRunner{}).Start(nil); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestZeroExit(t *testing.T) {
	requireBinary(t, "/bin/true")
	h, err := ExecRunner{}.Start([]string{"/bin/true"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	status := waitExit(t, h, 5*time.Second)
	if status.ExitCode != 0 || status.Err != nil {
		t.Fatalf("status = %+v, want clean zero exit", status)
	}
}

func TestNonZeroExit(t *testing.T) {
	requireBinary(t, "/bin/sh")
	h, err := ExecRunner{}.Start([]string{"/bin/sh", "-c", "exit 7"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	status := waitExit(t, h, 5*time.Second)
	if status.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", status.ExitCode)
	}
}

func TestPollBeforeExit(t *testing.T) {
	requireBinary(t, "/bin/sleep")
	h, err := ExecRunner{}.Start([]string{"/bin/sleep", "30"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Kill()

	if _, done := h.Poll(); done {
		t.Fatal("long-running process reported done immediately")
	}
	if h.PID() <= 0 {
		t.Fatalf("pid = %d", h.PID())
	}
}

func TestTerminateEndsProcess(t *testing.T) {
	requireBinary(t, "/bin/sleep")
	h, err := ExecRunner{}.Start([]string{"/bin/sleep", "30"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	status := waitExit(t, h, 5*time.Second)
	if status.ExitCode == 0 {
		t.Fatal("signaled process reported a zero exit")
	}
}

func TestStartMissingBinary(t *testing.T) {
	if _, err := (ExecRunner{}).Start([]string{"/no/such/binary"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
