// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Source file:line info with shortened relative paths
// - Context-based runID/oemID/pageID extraction for filtering
// - Dynamic filter-based logging via slog-logfilter library
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// RunIDKey is the context key for the ImportRun ID a log line belongs to.
	RunIDKey ContextKey = "log_run_id"
	// OEMIDKey is the context key for the OEM a log line belongs to.
	OEMIDKey ContextKey = "log_oem_id"
	// PageIDKey is the context key for the SourcePage a log line belongs to.
	PageIDKey ContextKey = "log_page_id"
)

// WithRunID adds an ImportRun ID to the context for logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithOEMID adds an OEM ID to the context for logging.
func WithOEMID(ctx context.Context, oemID string) context.Context {
	return context.WithValue(ctx, OEMIDKey, oemID)
}

// WithPageID adds a SourcePage ID to the context for logging.
func WithPageID(ctx context.Context, pageID string) context.Context {
	return context.WithValue(ctx, PageIDKey, pageID)
}

// GetRunID extracts the ImportRun ID from context.
func GetRunID(ctx context.Context) string {
	if v := ctx.Value(RunIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetOEMID extracts the OEM ID from context.
func GetOEMID(ctx context.Context) string {
	if v := ctx.Value(OEMIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetPageID extracts the SourcePage ID from context.
func GetPageID(ctx context.Context) string {
	if v := ctx.Value(PageIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with run_id/oem_id/page_id from context added
// as attributes, for whichever of the three are present.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}

	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	if oemID := GetOEMID(ctx); oemID != "" {
		logger = logger.With("oem_id", oemID)
	}
	if pageID := GetPageID(ctx); pageID != "" {
		logger = logger.With("page_id", pageID)
	}

	return logger
}

// registerContextExtractors registers the context extractors for filtering.
// This allows filters to match on context:run_id, context:oem_id, and
// context:page_id.
func registerContextExtractors() {
	logfilter.RegisterContextExtractor("run_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if v := ctx.Value(RunIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	})

	logfilter.RegisterContextExtractor("oem_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if v := ctx.Value(OEMIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	})

	logfilter.RegisterContextExtractor("page_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if v := ctx.Value(PageIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	})
}

// New creates a new configured logger using slog-logfilter.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info)
//
// Filters can be set at runtime via logfilter.SetFilters() or loaded from S3.
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	format := "json"
	if logFormat == "text" || (logFormat == "" && isatty(os.Stdout)) {
		format = "text"
	}

	// Parse log level from env var
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	// Register context extractors for filtering (run_id, oem_id, page_id)
	registerContextExtractors()

	// Create logger with slog-logfilter
	logger := logfilter.New(
		logfilter.WithLevel(level),
		logfilter.WithFormat(format),
		logfilter.WithOutput(os.Stdout),
		logfilter.WithSource(true),
	)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
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

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return logfilter.GetLevel()
}

// SetFilters replaces all log filters.
// Filters are applied in order; first match wins.
func SetFilters(filters []logfilter.LogFilter) {
	logfilter.SetFilters(filters)
}

// GetFilters returns a copy of the current filters.
func GetFilters() []logfilter.LogFilter {
	return logfilter.GetFilters()
}

// AddFilter adds a filter to the global handler.
func AddFilter(filter logfilter.LogFilter) {
	logfilter.AddFilter(filter)
}

// RemoveFilter removes filters matching the given type and pattern.
func RemoveFilter(filterType, pattern string) {
	logfilter.RemoveFilter(filterType, pattern)
}

// ClearFilters removes all filters from the global handler.
func ClearFilters() {
	logfilter.ClearFilters()
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
