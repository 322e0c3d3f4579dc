// internal/logging/logging.go
//
// Structured logger construction. Every component takes a *slog.Logger
// through its constructor; this package only decides level and sink once,
// in main.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// New returns a text-format slog.Logger writing to w at the named level.
// Accepted levels: debug, info, warn, error.
func New(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unknown level %q", level)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), nil
}
