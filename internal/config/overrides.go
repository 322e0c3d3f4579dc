package config

import (
	"fmt"
	"os"
)

// Overrides carries the command-line values that take precedence over the
// job spec file. Zero values leave the file's settings alone.
type Overrides struct {
	InputFileList string
	OutputDir     string
	MaxProcesses  int
	MetricsAddr   string
	JournalPath   string
}

// LoadWithOverrides reads the job spec file and applies CLI overrides
// before the normalize/validate passes run, so an input list given only on
// the command line still validates.
func LoadWithOverrides(path string, ov Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	if ov.InputFileList != "" {
		cfg.Directories.InputFileList = ov.InputFileList
	}
	if ov.OutputDir != "" {
		cfg.Directories.OutputDir = ov.OutputDir
	}
	if ov.MaxProcesses > 0 {
		cfg.Resources.MaxProcesses = ov.MaxProcesses
	}
	if ov.MetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = ov.MetricsAddr
	}
	if ov.JournalPath != "" {
		cfg.Journal.Path = ov.JournalPath
	}
	cfg.ApplyDefaults()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
