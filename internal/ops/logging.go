package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ventapp/ventfeed/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// LogSubscription logs a subscription lifecycle event
func (l *Logger) LogSubscription(sourceKey string, state string, err error) {
	if err != nil {
		l.Warn("subscription error",
			"source", sourceKey,
			"state", state,
			"error", err)
	} else {
		l.Debug("subscription state",
			"source", sourceKey,
			"state", state)
	}
}

// LogMutation logs an optimistic mutation outcome
func (l *Logger) LogMutation(op string, postID string, rolledBack bool, err error) {
	if err != nil {
		l.Warn("mutation failed",
			"op", op,
			"post_id", postID,
			"rolled_back", rolledBack,
			"error", err)
	} else {
		l.Debug("mutation confirmed",
			"op", op,
			"post_id", postID)
	}
}

// LogBackendOperation logs a backend read/write operation
func (l *Logger) LogBackendOperation(op string, collection string, duration time.Duration, err error) {
	if err != nil {
		l.Error("backend operation failed",
			"operation", op,
			"collection", collection,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("backend operation completed",
			"operation", op,
			"collection", collection,
			"duration_ms", duration.Milliseconds())
	}
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
