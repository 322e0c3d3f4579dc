// internal/capacity/planner.go
//
// Turns a calibrated per-process footprint plus a live system snapshot into
// a concurrency ceiling. The planner is pure: same inputs, same ceiling.

package capacity

import (
	"github.com/dsullivansr/process-orchestrator/internal/calibrate"
	"github.com/dsullivansr/process-orchestrator/internal/sampler"
)

// Floors applied to the calibrated footprint so a near-idle probe cannot
// produce an absurd ceiling through division by a tiny number.
const (
	minFootprintCPUPercent = 1.0
	minFootprintRSSBytes   = 1024
	minFootprintOutBytes   = 1
)

// Thresholds are the usable fractions of each resource, expressed as 0-100
// percentages of total capacity.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// Planner produces the current concurrency ceiling from a live system
// snapshot. Anything satisfying this contract can drive the scheduler.
type Planner interface {
	Plan(sys sampler.Snapshot) int
}

// FootprintPlanner computes the ceiling as the minimum of three independent
// per-resource bounds: usable CPU core-equivalents, usable RAM, and usable
// free disk on the output filesystem, each divided by the calibrated
// per-process footprint.
type FootprintPlanner struct {
	Footprint  calibrate.Result
	Thresholds Thresholds
	Min        int
	Max        int
}

// Plan returns the bounded ceiling for the given snapshot.
func (p FootprintPlanner) Plan(sys sampler.Snapshot) int {
	cpuFootprint := p.Footprint.CPUPercent
	if cpuFootprint < minFootprintCPUPercent {
		cpuFootprint = minFootprintCPUPercent
	}
	rss := p.Footprint.RSSBytes
	if rss < minFootprintRSSBytes {
		rss = minFootprintRSSBytes
	}
	outBytes := p.Footprint.OutputBytes
	if outBytes < minFootprintOutBytes {
		outBytes = minFootprintOutBytes
	}

	cores := sys.CPUCount
	if cores < 1 {
		cores = 1
	}
	// A process at 100% CPU occupies one core-equivalent.
	usableCores := p.Thresholds.CPUPercent / 100 * float64(cores)
	cpuBound := int(usableCores / (cpuFootprint / 100))

	usableMemory := p.Thresholds.MemoryPercent / 100 * float64(sys.MemoryTotalBytes)
	memoryBound := int(usableMemory / float64(rss))

	usableDisk := p.Thresholds.DiskPercent / 100 * float64(sys.DiskFreeBytes)
	diskBound := int(usableDisk / float64(outBytes))

	ceiling := cpuBound
	if memoryBound < ceiling {
		ceiling = memoryBound
	}
	if diskBound < ceiling {
		ceiling = diskBound
	}
	return p.clamp(ceiling)
}

func (p FootprintPlanner) clamp(ceiling int) int {
	minCeiling := p.Min
	if minCeiling < 1 {
		minCeiling = 1
	}
	if ceiling < minCeiling {
		ceiling = minCeiling
	}
	if p.Max > 0 && ceiling > p.Max {
		ceiling = p.Max
	}
	return ceiling
}

// StaticPlanner always returns a fixed ceiling. It is the degraded mode used
// when calibration is disabled or produced no usable footprint.
type StaticPlanner struct {
	Ceiling int
}

// Plan returns the fixed ceiling, floored at 1 so progress is always
// possible.
func (p StaticPlanner) Plan(sampler.Snapshot) int {
	if p.Ceiling < 1 {
		return 1
	}
	return p.Ceiling
}
