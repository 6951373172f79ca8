package logger

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestNewConsoleLogger_DefaultsToInfo(t *testing.T) {
	cl := NewConsoleLogger(&bytes.Buffer{}, "")
	if cl.logLevel != "info" {
		t.Errorf("Expected default level 'info', got %q", cl.logLevel)
	}

	cl = NewConsoleLogger(&bytes.Buffer{}, "bogus")
	if cl.logLevel != "info" {
		t.Errorf("Expected invalid level to fall back to 'info', got %q", cl.logLevel)
	}

	cl = NewConsoleLogger(&bytes.Buffer{}, "  WARN ")
	if cl.logLevel != "warn" {
		t.Errorf("Expected normalized level 'warn', got %q", cl.logLevel)
	}
}

func TestConsoleLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "debug")

	cl.LogInfo("coordinator started")

	// Format: "[HH:MM:SS] [INFO] coordinator started"
	pattern := regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[INFO\] coordinator started\n$`)
	if !pattern.MatchString(buf.String()) {
		t.Errorf("Unexpected log format: %q", buf.String())
	}
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "warn")

	cl.LogTrace("trace message")
	cl.LogDebug("debug message")
	cl.LogInfo("info message")
	cl.LogWarn("warn message")
	cl.LogError("error message")

	output := buf.String()
	if strings.Contains(output, "trace message") || strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below 'warn' should be filtered, got: %q", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("Messages at or above 'warn' should be logged, got: %q", output)
	}
}

func TestConsoleLogger_NilWriter(t *testing.T) {
	cl := NewConsoleLogger(nil, "info")

	// Must not panic
	cl.LogInfo("discarded")
	cl.LogError("discarded")
}

func TestNoOpLogger(t *testing.T) {
	n := NewNoOpLogger()
	n.LogDebug("x")
	n.LogInfo("x")
	n.LogWarn("x")
	n.LogError("x")
}

func TestMultiLogger_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	ml := NewMultiLogger(NewConsoleLogger(&a, "info"), NewConsoleLogger(&b, "info"), nil)

	ml.LogInfo("shared message")

	if !strings.Contains(a.String(), "shared message") {
		t.Error("First destination missed the message")
	}
	if !strings.Contains(b.String(), "shared message") {
		t.Error("Second destination missed the message")
	}
}
