package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadInputList reads a newline-delimited list of input file paths,
// preserving order and skipping blank lines. Entries are returned verbatim;
// existence and readability are checked per item by the scheduler so that
// one bad entry does not block the run.
func ReadInputList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open input file list %s: %w", path, err)
	}
	defer file.Close()

	var inputs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read input file list %s: %w", path, err)
	}
	return inputs, nil
}
