package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"
)

func TestLevelFromString(t *testing.T) {
	testCases := []struct {
		level    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo}, // Default to INFO for invalid levels
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			level := LevelFromString(tc.level)

			if level != tc.expected {
				t.Errorf("Expected log level to be %v for '%s', got %v", tc.expected, tc.level, level)
			}
		})
	}
}

func TestSetAndGetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	testCases := []LogLevel{
		LevelDebug,
		LevelInfo,
		LevelWarn,
		LevelError,
	}

	for _, tc := range testCases {
		t.Run(tc.String(), func(t *testing.T) {
			SetLevel(tc)

			if GetLevel() != tc {
				t.Errorf("Expected GetLevel() to return %v, got %v", tc, GetLevel())
			}
		})
	}
}

func TestStructuredLogging(_ *testing.T) {
	// Logging functions must not panic with any mix of arguments
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	Debug("Test debug message")
	Info("Test info message")
	Warn("Test warn message")
	Error("Test error message")

	Debug("Test debug with args: %s", "value")
	Info("Test info with args: %d", 42)
	Warn("Test warn with args: %v", []string{"a", "b"})
	Error("Test error with args: %f", 3.14)

	Info("Test mixed %d", 7, String("key", "value"), ErrorField("error", nil))
}

func TestLogLevelString(t *testing.T) {
	testCases := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "info"}, // Invalid level defaults to info
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if tc.level.String() != tc.expected {
				t.Errorf("Expected level.String() to return %s, got %s", tc.expected, tc.level.String())
			}
		})
	}
}

func TestFieldHelpers(t *testing.T) {
	stringField := String("key", "value")
	if stringField.Key != "key" || stringField.Value != "value" {
		t.Errorf("String field helper failed: got %+v", stringField)
	}

	intField := Int("number", 42)
	if intField.Key != "number" || intField.Value != 42 {
		t.Errorf("Int field helper failed: got %+v", intField)
	}

	int64Field := Int64("big_number", int64(1000))
	if int64Field.Key != "big_number" || int64Field.Value != int64(1000) {
		t.Errorf("Int64 field helper failed: got %+v", int64Field)
	}
}

func TestOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	defer SetOutput(os.Stdout, "json")
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	l := With(String("stream_id", "abc"))
	l.Warn("read %d bytes", 188,
		Int64("position", 376),
		Duration("elapsed", 2*time.Millisecond),
		ErrorField("error", errors.New("boom")))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}

	if entry["message"] != "read 188 bytes" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
	if entry["level"] != "warn" {
		t.Errorf("Unexpected level: %v", entry["level"])
	}
	if entry["stream_id"] != "abc" {
		t.Errorf("Missing bound field, got %v", entry["stream_id"])
	}
	if entry["position"] != float64(376) {
		t.Errorf("Unexpected position: %v", entry["position"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Unexpected error field: %v", entry["error"])
	}
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	defer SetOutput(os.Stdout, "json")
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("hidden")
	Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below the warn level, got %q", buf.String())
	}

	Error("shown")
	if buf.Len() == 0 {
		t.Error("Expected error output at the warn level")
	}
}
