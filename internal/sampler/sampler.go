// internal/sampler/sampler.go
//
// Point-in-time resource sampling. The system view covers CPU, RAM, and the
// free space on the filesystem backing the output directory; the process
// view attributes CPU and resident memory to one running worker. Both views
// are plain value snapshots so the calibrator and planner can pass them
// around freely.

package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrProcessGone is returned when a process sample targets a PID that has
// already exited or is inaccessible. Callers treat this as "stop tracking",
// not as a failure.
var ErrProcessGone = errors.New("sampler: process no longer available")

// DefaultTimeout bounds every sampling call so a slow probe can never stall
// a scheduler tick.
const DefaultTimeout = 2 * time.Second

// Snapshot is a system-wide resource reading.
type Snapshot struct {
	CPUPercent        float64
	CPUCount          int
	MemoryUsedPercent float64
	MemoryTotalBytes  uint64
	MemoryUsedBytes   uint64
	DiskFreeBytes     uint64
	Timestamp         time.Time
}

// ProcessSnapshot is a per-process resource reading.
type ProcessSnapshot struct {
	CPUPercent float64
	RSSBytes   uint64
	Timestamp  time.Time
}

// Sampler is the capability the calibrator and scheduler depend on. Any
// implementation that can produce these snapshots can be substituted.
type Sampler interface {
	System(ctx context.Context) (Snapshot, error)
	Process(ctx context.Context, pid int) (ProcessSnapshot, error)
}

// SystemSampler reads live figures through gopsutil. DiskPath names the
// directory whose filesystem free space is reported, normally the job's
// output directory.
type SystemSampler struct {
	DiskPath string
	Timeout  time.Duration
}

// New returns a SystemSampler watching the filesystem behind diskPath.
func New(diskPath string) *SystemSampler {
	return &SystemSampler{DiskPath: diskPath, Timeout: DefaultTimeout}
}

// System reads a system-wide snapshot. The CPU figure is the aggregate busy
// percentage since the previous call, which is what the planner wants for a
// continuously ticking loop.
func (s *SystemSampler) System(ctx context.Context) (Snapshot, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sampler: cpu percent: %w", err)
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil || count < 1 {
		count = 1
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sampler: virtual memory: %w", err)
	}
	usage, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sampler: disk usage for %s: %w", s.DiskPath, err)
	}
	return Snapshot{
		CPUPercent:        cpuPercent,
		CPUCount:          count,
		MemoryUsedPercent: vm.UsedPercent,
		MemoryTotalBytes:  vm.Total,
		MemoryUsedBytes:   vm.Used,
		DiskFreeBytes:     usage.Free,
		Timestamp:         time.Now(),
	}, nil
}

// Process reads CPU and resident memory for one PID. A vanished or
// inaccessible process yields ErrProcessGone.
func (s *SystemSampler) Process(ctx context.Context, pid int) (ProcessSnapshot, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessSnapshot{}, fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return ProcessSnapshot{}, fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSnapshot{}, fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	return ProcessSnapshot{
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
		Timestamp:  time.Now(),
	}, nil
}

func (s *SystemSampler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
