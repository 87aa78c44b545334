package logging

import (
	"context"
	"log/slog"
	"testing"
)

// ========================================
// Context Key Tests
// ========================================

func TestContextKeys(t *testing.T) {
	if RunIDKey != "log_run_id" {
		t.Errorf("RunIDKey = %q, want %q", RunIDKey, "log_run_id")
	}
	if OEMIDKey != "log_oem_id" {
		t.Errorf("OEMIDKey = %q, want %q", OEMIDKey, "log_oem_id")
	}
	if PageIDKey != "log_page_id" {
		t.Errorf("PageIDKey = %q, want %q", PageIDKey, "log_page_id")
	}
}

// ========================================
// WithRunID / WithOEMID / WithPageID Tests
// ========================================

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	runID := "run-123-abc"

	newCtx := WithRunID(ctx, runID)

	if ctx.Value(RunIDKey) != nil {
		t.Error("original context should not be modified")
	}

	got := newCtx.Value(RunIDKey)
	if got != runID {
		t.Errorf("context value = %v, want %q", got, runID)
	}
}

func TestWithRunID_Empty(t *testing.T) {
	ctx := WithRunID(context.Background(), "")

	got := ctx.Value(RunIDKey)
	if got != "" {
		t.Errorf("context value = %v, want empty string", got)
	}
}

func TestWithOEMID(t *testing.T) {
	ctx := context.Background()
	oemID := "ford"

	newCtx := WithOEMID(ctx, oemID)

	if ctx.Value(OEMIDKey) != nil {
		t.Error("original context should not be modified")
	}

	got := newCtx.Value(OEMIDKey)
	if got != oemID {
		t.Errorf("context value = %v, want %q", got, oemID)
	}
}

func TestWithPageID(t *testing.T) {
	ctx := WithPageID(context.Background(), "page-456")

	got := ctx.Value(PageIDKey)
	if got != "page-456" {
		t.Errorf("context value = %v, want %q", got, "page-456")
	}
}

// ========================================
// GetRunID / GetOEMID / GetPageID Tests
// ========================================

func TestGetRunID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{"with run ID", WithRunID(context.Background(), "run-999"), "run-999"},
		{"without run ID", context.Background(), ""},
		{"empty run ID", WithRunID(context.Background(), ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetRunID(tt.ctx)
			if got != tt.expected {
				t.Errorf("GetRunID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetRunID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), RunIDKey, 12345)

	got := GetRunID(ctx)
	if got != "" {
		t.Errorf("GetRunID() = %q, want empty for wrong type", got)
	}
}

func TestGetOEMID(t *testing.T) {
	ctx := WithOEMID(context.Background(), "toyota")
	got := GetOEMID(ctx)
	if got != "toyota" {
		t.Errorf("GetOEMID() = %q, want %q", got, "toyota")
	}
}

func TestGetPageID(t *testing.T) {
	ctx := WithPageID(context.Background(), "page-abc")
	got := GetPageID(ctx)
	if got != "page-abc" {
		t.Errorf("GetPageID() = %q, want %q", got, "page-abc")
	}
}

// ========================================
// FromContext Tests
// ========================================

func TestFromContext_NilContext(t *testing.T) {
	logger := slog.Default()
	result := FromContext(nil, logger)

	if result != logger {
		t.Error("FromContext with nil context should return original logger")
	}
}

func TestFromContext_NoKeys(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	result := FromContext(ctx, logger)

	if result != logger {
		t.Error("FromContext without any keys should return original logger")
	}
}

func TestFromContext_WithRunID(t *testing.T) {
	logger := slog.Default()
	ctx := WithRunID(context.Background(), "run-test-123")

	result := FromContext(ctx, logger)

	if result == logger {
		t.Error("FromContext with a run ID should return a new logger with attributes")
	}
}

func TestFromContext_WithAllThree(t *testing.T) {
	logger := slog.Default()
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithOEMID(ctx, "ford")
	ctx = WithPageID(ctx, "page-1")

	result := FromContext(ctx, logger)

	if result == logger {
		t.Error("FromContext with run/oem/page IDs should return a new logger with attributes")
	}
}

// ========================================
// parseLogLevel Tests
// ========================================

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"Debug", slog.LevelDebug},
		{" debug ", slog.LevelDebug},

		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo}, // default

		{"warn", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},

		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},

		{"invalid", slog.LevelInfo}, // default
		{"unknown", slog.LevelInfo}, // default
		{"trace", slog.LevelInfo},   // unsupported, default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLogLevel(tt.input)
			if got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// ========================================
// Combined Context Tests
// ========================================

func TestCombinedContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-combined")
	ctx = WithOEMID(ctx, "oem-combined")

	runID := GetRunID(ctx)
	oemID := GetOEMID(ctx)

	if runID != "run-combined" {
		t.Errorf("GetRunID() = %q, want %q", runID, "run-combined")
	}
	if oemID != "oem-combined" {
		t.Errorf("GetOEMID() = %q, want %q", oemID, "oem-combined")
	}
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithRunID(ctx, "run-2")

	got := GetRunID(ctx)
	if got != "run-2" {
		t.Errorf("GetRunID() = %q, want %q (should be overwritten)", got, "run-2")
	}
}

// ========================================
// ContextKey Type Tests
// ========================================

func TestContextKey_Type(t *testing.T) {
	var key ContextKey = "test_key"

	if string(key) != "test_key" {
		t.Errorf("ContextKey conversion = %q, want %q", string(key), "test_key")
	}
}

func TestContextKey_Uniqueness(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, RunIDKey, "typed-value")

	rawValue := ctx.Value("log_run_id")
	if rawValue != nil {
		t.Error("raw string key should not match ContextKey type")
	}

	typedValue := ctx.Value(RunIDKey)
	if typedValue != "typed-value" {
		t.Errorf("typed key value = %v, want %q", typedValue, "typed-value")
	}
}

// ========================================
// New Logger Tests
// ========================================

func TestNew(t *testing.T) {
	logger := New()
	if logger == nil {
		t.Fatal("New() should return a logger")
	}
}

func TestSetDefault(t *testing.T) {
	logger := SetDefault()
	if logger == nil {
		t.Fatal("SetDefault() should return a logger")
	}

	defaultLogger := slog.Default()
	if defaultLogger == nil {
		t.Error("slog.Default() should not be nil after SetDefault()")
	}
}
