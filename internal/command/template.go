package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholders recognized inside flag template tokens.
const (
	PlaceholderInput  = "{input_file}"
	PlaceholderOutput = "{output_file}"
)

// placeholderPattern matches anything that still looks like a {placeholder}
// after the known substitutions ran.
var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// TemplateError reports a flag template token carrying a placeholder this
// builder does not know.
type TemplateError struct {
	Token       string
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("command: unknown placeholder %s in flag template token %q", e.Placeholder, e.Token)
}

// BuildArgv expands the flag template into the concrete argument vector for
// one input/output pair. The binary path is argument zero and is never
// templated. Every occurrence of {input_file} and {output_file} in a token
// is replaced; tokens without placeholders pass through untouched. Nothing
// is ever interpreted by a shell, so tokens like ">" stay literal argv
// entries; jobs that need shell semantics must point the binary path at a
// wrapper script.
func BuildArgv(binary string, flags []string, inputPath, outputPath string) ([]string, error) {
	argv := make([]string, 0, len(flags)+1)
	argv = append(argv, binary)
	for _, token := range flags {
		// Scan the raw token, not the expanded one, so braces inside the
		// substituted paths cannot trip the unknown-placeholder check.
		stripped := strings.ReplaceAll(token, PlaceholderInput, "")
		stripped = strings.ReplaceAll(stripped, PlaceholderOutput, "")
		if leftover := placeholderPattern.FindString(stripped); leftover != "" {
			return nil, &TemplateError{Token: token, Placeholder: leftover}
		}
		expanded := strings.ReplaceAll(token, PlaceholderInput, inputPath)
		expanded = strings.ReplaceAll(expanded, PlaceholderOutput, outputPath)
		argv = append(argv, expanded)
	}
	return argv, nil
}
