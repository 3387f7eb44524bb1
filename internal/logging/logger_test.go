// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v\nOutput: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if Get().out != &buf1 {
		t.Error("Second Init() should be ignored, output writer changed")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestParseLevel verifies config string parsing.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestLogLevel_shouldLog verifies log level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logLevel LogLevel
		expected bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"debug logs at info", LevelInfo, LevelDebug, false},
		{"info logs at warn", LevelWarn, LevelInfo, false},
		{"error logs at error", LevelError, LevelError, true},
		{"error logs at debug", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(io.Discard, tt.minLevel)
			if got := logger.shouldLog(tt.logLevel); got != tt.expected {
				t.Errorf("shouldLog(%v) at minLevel %v = %v, want %v",
					tt.logLevel, tt.minLevel, got, tt.expected)
			}
		})
	}
}

// TestLogger_Debug verifies debug logging with context.
func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("test message", map[string]interface{}{"key": "value"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Level != "DEBUG" {
		t.Errorf("Level = %q, want 'DEBUG'", entry.Level)
	}
	if entry.Message != "test message" {
		t.Errorf("Message = %q, want 'test message'", entry.Message)
	}
	if entry.Context["key"] != "value" {
		t.Errorf("Context['key'] = %v, want 'value'", entry.Context["key"])
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("Timestamp is not valid RFC3339: %v", err)
	}
}

// TestLogger_Error verifies error logging.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("error occurred", io.ErrUnexpectedEOF)

	entry := decodeLines(t, &buf)[0]
	if entry.Level != "ERROR" {
		t.Errorf("Level = %q, want 'ERROR'", entry.Level)
	}
	if !strings.Contains(entry.Error, io.ErrUnexpectedEOF.Error()) {
		t.Errorf("Error field should contain error details, got: %s", entry.Error)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("push failed", "REMOTE_REJECTED", io.ErrUnexpectedEOF, map[string]interface{}{"kind": "project"})

	entry := decodeLines(t, &buf)[0]
	if entry.Context["error_code"] != "REMOTE_REJECTED" {
		t.Errorf("error_code = %v, want 'REMOTE_REJECTED'", entry.Context["error_code"])
	}
	if entry.Context["kind"] != "project" {
		t.Errorf("kind = %v, want 'project'", entry.Context["kind"])
	}
}

// TestLogger_filtering verifies minimum level filtering.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", nil)

	if entries := decodeLines(t, &buf); len(entries) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(entries))
	}
}

// TestLogger_getContext_multiple verifies context merging.
func TestLogger_getContext_multiple(t *testing.T) {
	logger := New(io.Discard, LevelInfo)

	merged := logger.getContext(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2, "a": 3},
	)
	if merged["a"] != 3 || merged["b"] != 2 {
		t.Errorf("merged = %v, want a=3 b=2", merged)
	}
	if logger.getContext() != nil {
		t.Error("getContext() with no maps should be nil")
	}
}

// TestLogger_concurrentLogging verifies concurrent logging is safe.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	if entries := decodeLines(t, &buf); len(entries) != 20 {
		t.Errorf("Expected 20 log lines, got %d", len(entries))
	}
}

// TestInitFile verifies the rotating file sink.
func TestInitFile(t *testing.T) {
	global = nil
	once = *new(sync.Once)
	t.Cleanup(func() {
		global = nil
		once = *new(sync.Once)
	})

	path := filepath.Join(t.TempDir(), "crafttrack.log")
	InitFile(path, LevelInfo, 1, 1)
	Info("written to file", map[string]interface{}{"ok": true})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %s", data)
	}
}
