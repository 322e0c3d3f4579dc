// internal/command/paths.go
//
// Output-path derivation. Every input file maps to exactly one output path:
// the input's base name, with the configured suffix appended verbatim after
// the whole name, placed under the output directory. The planning step also
// enforces the safety invariants that must hold before anything spawns.

package command

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dsullivansr/process-orchestrator/internal/config"
)

// DuplicateOutputError reports two or more distinct input files resolving to
// the same output path.
type DuplicateOutputError struct {
	Output string
	Inputs []string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("command: inputs %s all resolve to output %s",
		strings.Join(e.Inputs, ", "), e.Output)
}

// ResolveOutput derives the output path for one input file. The suffix is
// appended after the full file name, not inserted before the extension, so
// "a.txt" with suffix ".copy" becomes "a.txt.copy".
func ResolveOutput(dir config.DirectoryConfig, inputPath string) (string, error) {
	normalized, err := config.NormalizePath(inputPath)
	if err != nil {
		return "", fmt.Errorf("command: normalize input %s: %w", inputPath, err)
	}
	name := filepath.Base(normalized)
	if dir.OutputSuffix != "" {
		name += dir.OutputSuffix
	}
	return filepath.Join(dir.OutputDir, name), nil
}

// Assignment pairs one input file with its derived output path.
type Assignment struct {
	Input  string
	Output string
}

// PlanOutputs resolves every input's output path up front and enforces the
// run-wide invariants: no input may equal its own output (the same-directory
// case, which requires a non-empty suffix), and no two inputs may share an
// output. Input order is preserved.
func PlanOutputs(dir config.DirectoryConfig, inputs []string) ([]Assignment, error) {
	assignments := make([]Assignment, 0, len(inputs))
	byOutput := make(map[string][]string, len(inputs))
	for _, input := range inputs {
		output, err := ResolveOutput(dir, input)
		if err != nil {
			return nil, err
		}
		normalized, err := config.NormalizePath(input)
		if err != nil {
			return nil, fmt.Errorf("command: normalize input %s: %w", input, err)
		}
		if normalized == output {
			return nil, &config.ConfigError{
				Field:  "directories.output_suffix",
				Detail: fmt.Sprintf("input and output are the same file: %s (same-directory jobs need a non-empty suffix)", input),
			}
		}
		assignments = append(assignments, Assignment{Input: input, Output: output})
		byOutput[output] = append(byOutput[output], input)
	}
	var collided []string
	for output, ins := range byOutput {
		if len(ins) > 1 {
			collided = append(collided, output)
		}
	}
	if len(collided) > 0 {
		sort.Strings(collided)
		return nil, &DuplicateOutputError{Output: collided[0], Inputs: byOutput[collided[0]]}
	}
	return assignments, nil
}

// ValidateSameDir enforces the load-time suffix invariant: when the input
// directory and output directory normalize to the same path, a non-empty,
// non-whitespace suffix is mandatory or every output would overwrite its
// input.
func ValidateSameDir(dir config.DirectoryConfig, inputDir string) error {
	normalizedIn, err := config.NormalizePath(inputDir)
	if err != nil {
		return fmt.Errorf("command: normalize input dir %s: %w", inputDir, err)
	}
	if normalizedIn != dir.OutputDir {
		return nil
	}
	if strings.TrimSpace(dir.OutputSuffix) == "" {
		return &config.ConfigError{
			Field:  "directories.output_suffix",
			Detail: fmt.Sprintf("output directory equals input directory %s; a non-empty suffix is required", inputDir),
		}
	}
	return nil
}
