// Package logging holds the slog helpers shared by the bridge packages.
//
// main builds the one real handler and hands a *slog.Logger to every
// constructor. Packages scope it once with .With("component", name) and
// never touch slog.Default. A nil logger means "don't log".
//
// The per-message path logs at debug only. Connection state changes,
// rejected payloads and sink failures are the info and warn level events.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Default returns logger, or a discard logger when logger is nil.
func Default(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

// ParseLevel maps a LOG_LEVEL value to a slog.Level. Matching is
// case-insensitive; "warning" is accepted as an alias for "warn".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Truncate shortens s to at most n bytes for log output, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
