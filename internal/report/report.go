// internal/report/report.go
//
// Human-facing run summary for the CLI. Rendering only; all numbers come
// from the scheduler's aggregate summary.

package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	stoppedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// Render formats the run summary as a terminal block. lipgloss drops the
// styling on non-TTY output, so the same text is safe to pipe.
func Render(sum scheduler.Summary, elapsed time.Duration) string {
	var b strings.Builder

	total := sum.Completed + sum.Failed + sum.Terminated
	b.WriteString(titleStyle.Render(fmt.Sprintf("Run finished: %d file(s) in %s", total, elapsed.Round(time.Millisecond))))
	b.WriteString("\n")
	b.WriteString(completedStyle.Render(fmt.Sprintf("  completed  %d", sum.Completed)))
	b.WriteString("\n")
	b.WriteString(failedStyle.Render(fmt.Sprintf("  failed     %d", sum.Failed)))
	b.WriteString("\n")
	b.WriteString(stoppedStyle.Render(fmt.Sprintf("  terminated %d", sum.Terminated)))
	b.WriteString("\n")

	for _, item := range sum.Items {
		if item.State != scheduler.StateFailed {
			continue
		}
		line := fmt.Sprintf("  %s: %s", item.Input, item.Reason)
		if item.Detail != "" {
			line += " (" + item.Detail + ")"
		}
		if item.Retries > 0 {
			line += fmt.Sprintf(" after %d retr%s", item.Retries, plural(item.Retries, "y", "ies"))
		}
		b.WriteString(dimStyle.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
