package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger is the global logger instance
var Logger *slog.Logger

// InitLogger initializes the global logger with the appropriate handler
// For production, use JSON format; for development, use text format
func InitLogger(production bool) {
	InitLoggerWithLevel(production, slog.LevelInfo)
}

// InitLoggerWithLevel initializes the logger with a specific log level
func InitLoggerWithLevel(production bool, level slog.Level) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler).With("service", "llm-gateway")
	slog.SetDefault(Logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
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

func ensure() {
	if Logger == nil {
		InitLogger(false)
	}
}

// WithContext returns a logger carrying the request id from ctx, if any
func WithContext(ctx context.Context) *slog.Logger {
	ensure()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return Logger.With("request_id", reqID)
	}
	return Logger
}

// Info logs an info message
func Info(msg string, args ...any) {
	ensure()
	Logger.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	ensure()
	Logger.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	ensure()
	Logger.Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	ensure()
	Logger.Debug(msg, args...)
}

// Fatal logs an error message and exits
func Fatal(msg string, args ...any) {
	ensure()
	Logger.Error(msg, args...)
	os.Exit(1)
}

// WithProject returns a logger with project field
func WithProject(projectID string) *slog.Logger {
	ensure()
	return Logger.With("project_id", projectID)
}

// WithProvider returns a logger with provider field
func WithProvider(provider string) *slog.Logger {
	ensure()
	return Logger.With("provider", provider)
}

// WithError returns a logger with error field
func WithError(err error) *slog.Logger {
	ensure()
	return Logger.With("error", err)
}
