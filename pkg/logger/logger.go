// Package logger provides the process-wide slog logger and shared
// logging attributes.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the logger to the fx graph
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds the root slog logger.
// LOG_LEVEL selects the minimum level (debug|info|warn|error, default info).
// GO_ENV=production switches to the JSON handler for log collectors.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
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

// Scope returns the standard scope attribute used to tag a logger with
// the component that owns it.
func Scope(name string) slog.Attr {
	return slog.Attr{Key: "scope", Value: slog.StringValue(name)}
}

// Error returns the standard error attribute.
func Error(err error) slog.Attr {
	return slog.Attr{Key: "error", Value: slog.AnyValue(err)}
}
