// internal/config/config.go
//
// This package owns the job specification file. A job describes one binary,
// the flag template used to invoke it, and the directories the run reads
// from and writes into, plus the resource, retry, and calibration knobs the
// scheduler consumes.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the job spec leaves a knob unset.
const (
	DefaultCPUPercent    = 80.0
	DefaultMemoryPercent = 80.0
	DefaultDiskPercent   = 80.0

	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second

	DefaultStabilizationDelay = 5 * time.Second
	DefaultTickInterval       = 250 * time.Millisecond
	DefaultPlanInterval       = 10 * time.Second
	DefaultShutdownGrace      = 5 * time.Second
)

// ConfigError marks a problem detected while loading or validating the job
// spec. Every ConfigError is raised before any process is spawned.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Detail)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

// BinaryConfig names the executable and its flag template. Flag tokens may
// contain the {input_file} and {output_file} placeholders.
type BinaryConfig struct {
	Path  string   `yaml:"path"`
	Flags []string `yaml:"flags"`
}

// DirectoryConfig describes where inputs come from and outputs go.
// OutputDir is normalized to a symlink-resolved absolute path during
// Normalize so that textually different spellings of the same directory
// compare equal.
type DirectoryConfig struct {
	InputFileList string `yaml:"input_file_list"`
	OutputDir     string `yaml:"output_dir"`
	OutputSuffix  string `yaml:"output_suffix"`
}

// ResourceConfig carries the capacity planner thresholds. Percent values are
// fractions of 0-100 applied against total CPU, RAM, and output-filesystem
// free space.
type ResourceConfig struct {
	CPUPercent    float64  `yaml:"cpu_percent"`
	MemoryPercent float64  `yaml:"memory_percent"`
	DiskPercent   float64  `yaml:"disk_percent"`
	MinProcesses  int      `yaml:"min_processes"`
	MaxProcesses  int      `yaml:"max_processes"`
	PlanInterval  Duration `yaml:"plan_interval"`
}

// RetryConfig bounds how often a failed work item is re-admitted and how
// long it backs off between attempts. MaxRetries is a pointer so an explicit
// zero (no retries) is distinguishable from unset.
type RetryConfig struct {
	MaxRetries *int     `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// CalibrationConfig controls the one-shot probe run that measures a
// representative process before the pool starts.
type CalibrationConfig struct {
	Enabled             *bool    `yaml:"enabled"`
	StabilizationDelay  Duration `yaml:"stabilization_delay"`
	FallbackOutputBytes int64    `yaml:"fallback_output_bytes"`
	CountTowardRun      *bool    `yaml:"count_toward_run"`
}

// SchedulerConfig tunes the coordinating loop.
type SchedulerConfig struct {
	TickInterval  Duration `yaml:"tick_interval"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`
	RequireOutput *bool    `yaml:"require_output"`
}

// TelemetryConfig names the optional Prometheus listen address. Empty
// disables the endpoint.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// JournalConfig names the optional sqlite run journal. Empty disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Config models the whole job spec file.
type Config struct {
	Binary      BinaryConfig      `yaml:"binary"`
	Directories DirectoryConfig   `yaml:"directories"`
	Resources   ResourceConfig    `yaml:"resources"`
	Retry       RetryConfig       `yaml:"retry"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Journal     JournalConfig     `yaml:"journal"`
}

// Load reads, defaults, normalizes, and validates a job spec file.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

func parse(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset knob with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Resources.CPUPercent == 0 {
		c.Resources.CPUPercent = DefaultCPUPercent
	}
	if c.Resources.MemoryPercent == 0 {
		c.Resources.MemoryPercent = DefaultMemoryPercent
	}
	if c.Resources.DiskPercent == 0 {
		c.Resources.DiskPercent = DefaultDiskPercent
	}
	if c.Resources.MinProcesses == 0 {
		c.Resources.MinProcesses = 1
	}
	if c.Resources.MaxProcesses == 0 {
		c.Resources.MaxProcesses = runtime.NumCPU()
	}
	if c.Resources.PlanInterval == 0 {
		c.Resources.PlanInterval = Duration(DefaultPlanInterval)
	}
	if c.Retry.MaxRetries == nil {
		c.Retry.MaxRetries = intPtr(DefaultMaxRetries)
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(DefaultBaseDelay)
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(DefaultMaxDelay)
	}
	if c.Calibration.Enabled == nil {
		c.Calibration.Enabled = boolPtr(true)
	}
	if c.Calibration.StabilizationDelay == 0 {
		c.Calibration.StabilizationDelay = Duration(DefaultStabilizationDelay)
	}
	if c.Calibration.CountTowardRun == nil {
		c.Calibration.CountTowardRun = boolPtr(true)
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = Duration(DefaultTickInterval)
	}
	if c.Scheduler.ShutdownGrace == 0 {
		c.Scheduler.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if c.Scheduler.RequireOutput == nil {
		c.Scheduler.RequireOutput = boolPtr(true)
	}
}

// Normalize resolves the directory settings to absolute, symlink-free paths
// and creates the output directory when missing.
func (c *Config) Normalize() error {
	if c.Directories.InputFileList != "" {
		abs, err := filepath.Abs(c.Directories.InputFileList)
		if err != nil {
			return fmt.Errorf("config: resolve input file list: %w", err)
		}
		c.Directories.InputFileList = abs
	}
	if c.Directories.OutputDir != "" {
		if err := os.MkdirAll(c.Directories.OutputDir, 0o755); err != nil {
			return fmt.Errorf("config: ensure output dir: %w", err)
		}
		resolved, err := NormalizePath(c.Directories.OutputDir)
		if err != nil {
			return fmt.Errorf("config: resolve output dir: %w", err)
		}
		c.Directories.OutputDir = resolved
	}
	return nil
}

// Validate checks the invariants that must hold before anything spawns.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Binary.Path) == "" {
		return &ConfigError{Field: "binary.path", Detail: "binary path cannot be empty"}
	}
	if strings.TrimSpace(c.Directories.InputFileList) == "" {
		return &ConfigError{Field: "directories.input_file_list", Detail: "input file list cannot be empty"}
	}
	if info, err := os.Stat(c.Directories.InputFileList); err != nil || info.IsDir() {
		return &ConfigError{Field: "directories.input_file_list", Detail: fmt.Sprintf("not a readable file: %s", c.Directories.InputFileList)}
	}
	if strings.TrimSpace(c.Directories.OutputDir) == "" {
		return &ConfigError{Field: "directories.output_dir", Detail: "output directory cannot be empty"}
	}
	if c.Resources.CPUPercent <= 0 || c.Resources.CPUPercent > 100 {
		return &ConfigError{Field: "resources.cpu_percent", Detail: "must be in (0, 100]"}
	}
	if c.Resources.MemoryPercent <= 0 || c.Resources.MemoryPercent > 100 {
		return &ConfigError{Field: "resources.memory_percent", Detail: "must be in (0, 100]"}
	}
	if c.Resources.DiskPercent <= 0 || c.Resources.DiskPercent > 100 {
		return &ConfigError{Field: "resources.disk_percent", Detail: "must be in (0, 100]"}
	}
	if c.Resources.MinProcesses < 1 {
		return &ConfigError{Field: "resources.min_processes", Detail: "must be at least 1"}
	}
	if c.Resources.MaxProcesses < c.Resources.MinProcesses {
		return &ConfigError{Field: "resources.max_processes", Detail: "must be >= min_processes"}
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return &ConfigError{Field: "retry.max_retries", Detail: "cannot be negative"}
	}
	return nil
}

// MaxRetries returns the per-item retry budget. Zero means failures are
// terminal on the first attempt.
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.Retry.MaxRetries
}

// CalibrationEnabled reports whether the probe run should happen.
func (c *Config) CalibrationEnabled() bool {
	return c.Calibration.Enabled != nil && *c.Calibration.Enabled
}

// CalibrationCounts reports whether the probe's output counts as a completed
// work item.
func (c *Config) CalibrationCounts() bool {
	return c.Calibration.CountTowardRun != nil && *c.Calibration.CountTowardRun
}

// RequireOutput reports whether a zero exit status additionally requires a
// non-empty output file before an item is marked completed.
func (c *Config) RequireOutput() bool {
	return c.Scheduler.RequireOutput != nil && *c.Scheduler.RequireOutput
}

// NormalizePath returns the absolute, symlink-resolved form of path. A path
// whose leaf does not exist yet resolves through its parent; a path that
// cannot be resolved at all falls back to its cleaned absolute form, so a
// missing input file surfaces later as a per-item failure instead of
// aborting the whole run here.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	if parent, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(parent, filepath.Base(abs)), nil
	}
	return filepath.Clean(abs), nil
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }
