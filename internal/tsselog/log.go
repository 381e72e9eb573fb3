// Package tsselog wires the ERROR/WARN/INFO/DEBUG/TRACE ladder the script
// host's log module and the rest of the broker need on top of the standard
// library's structured logger.
package tsselog

import (
	"context"
	"log/slog"
	"os"
)

// LevelTrace sits one rung below slog's Debug, matching the five level
// ladder the script host api's `log` module exposes to scripts.
const LevelTrace = slog.Level(-8)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

// New builds the process-wide logger, writing leveled, human-readable lines
// to stderr. minLevel is typically sourced from the --log-level CLI flag.
func New(minLevel slog.Level) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: minLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if name, ok := levelNames[level]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	})
	return slog.New(h)
}

// ParseLevel maps the CLI/script-facing level names onto slog.Level.
func ParseLevel(s string) slog.Level {
	switch s {
	case "ERROR", "error":
		return slog.LevelError
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "INFO", "info":
		return slog.LevelInfo
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "TRACE", "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// Trace logs at the TRACE level, below Debug.
func Trace(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	l.Log(ctx, LevelTrace, msg, args...)
}
