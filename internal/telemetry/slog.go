package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// codePrefixLen is how much of a key code may appear in logs.
const codePrefixLen = 4

// ParseLevel maps a configured level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger builds a logger writing to w. format "json" selects the JSON handler,
// anything else the text handler. Source locations are added only at debug level.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupLogger installs a stdout logger as the slog default so package-level
// slog calls everywhere pick it up.
func SetupLogger(format, level string) {
	slog.SetDefault(NewLogger(os.Stdout, format, level))
	slog.Info("logger initialised", "format", format, "level", ParseLevel(level).String())
}

// RedactCode returns a loggable form of a key code. Full codes are bearer
// credentials and never reach the logs.
func RedactCode(code string) string {
	if len(code) <= codePrefixLen {
		return strings.Repeat("*", len(code))
	}
	return code[:codePrefixLen] + "…"
}
