package app

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the app logger. Format "json" emits structured JSON for
// production; "text" emits the human-readable key=value form for local runs.
func NewLogger(level, format string) *slog.Logger {
	lvl := parseLogLevel(level)

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "pretty":
		h = newTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}, isTerminal(os.Stdout))
	default:
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     lvl,
			AddSource: true,
		})
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
