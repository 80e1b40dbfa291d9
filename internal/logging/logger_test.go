package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected Debug/Info below LevelWarn to be suppressed, got: %s", buf.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message in output, got: %s", buf.String())
	}
}

func TestLoggerFormatsKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("send completed", "bytes", 256, "dest", "fi_addr:2")
	output := buf.String()
	if !strings.Contains(output, "bytes=256") {
		t.Errorf("expected bytes=256 in output, got: %s", output)
	}
	if !strings.Contains(output, "dest=fi_addr:2") {
		t.Errorf("expected dest=fi_addr:2 in output, got: %s", output)
	}
}

func TestLoggerPrintfVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("atomic failed on %s: %v", "verbs", "timeout")
	if !strings.Contains(buf.String(), "atomic failed on verbs: timeout") {
		t.Errorf("expected formatted error message, got: %s", buf.String())
	}
}

func TestWithAttachesFieldsToEveryMessage(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	scoped := base.With("component", "reactor")

	scoped.Info("tick")
	output := buf.String()
	if !strings.Contains(output, "component=reactor") {
		t.Errorf("expected component=reactor in output, got: %s", output)
	}

	buf.Reset()
	base.Info("unscoped tick")
	if strings.Contains(buf.String(), "component=reactor") {
		t.Error("With must not mutate the receiver")
	}
}

func TestWithChainsFieldsAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	scoped := base.With("provider", "efa").With("ep", 3)

	scoped.Warn("slow completion")
	output := buf.String()
	if !strings.Contains(output, "provider=efa") || !strings.Contains(output, "ep=3") {
		t.Errorf("expected both chained fields in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(NewLogger(DefaultConfig()))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
