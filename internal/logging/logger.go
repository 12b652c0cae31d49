package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the daemon's logger: slog text output on stdout at the given
// level. Every component receives this logger and attaches key-value context.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLevel maps the MAILPILOT_LOG_LEVEL value to a slog level. Unknown
// values fall back to info rather than erroring: logging config must never
// stop the daemon.
func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
