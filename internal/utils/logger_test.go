// internal/utils/logger_test.go
package utils

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"scope-service/internal/config"
)

func TestNewLoggerFileOutput(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		Output:     filepath.Join(t.TempDir(), "logs", "scope.log"),
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello")
	_ = CloseLogger(logger)
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	if _, err := NewLogger(&config.LoggingConfig{Level: "verbose", Output: "stdout"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSessionLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewSessionLogger(zap.New(core), "abc", "tcp").WithInstrument("DS1104Z", "DS1ZA1", "00.04.04")

	sl.LogConnection("connect", false, errors.New("refused"))
	sl.LogExchange(":TRIG:STAT?", "STOP", time.Millisecond)
	sl.LogCompatibility("DS2072A", 2, "untested")

	if logs.Len() != 3 {
		t.Fatalf("got %d entries, want 3", logs.Len())
	}
	first := logs.All()[0]
	if first.Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", first.Level)
	}
	ctx := first.ContextMap()
	if ctx["session_id"] != "abc" || ctx["model"] != "DS1104Z" {
		t.Errorf("context = %v", ctx)
	}
	if logs.FilterMessage("Instrument compatibility warning").Len() != 1 {
		t.Error("missing compatibility warning")
	}
}

func TestOperationLoggerProgressClamped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	op := NewOperationLogger(zap.New(core), "deep_memory_download", "DS1ZA1")

	op.Start()
	op.Progress("Channel downloaded", 140)
	op.Error(errors.New("timeout"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if got := entries[1].ContextMap()["progress"]; got != 100.0 {
		t.Errorf("progress = %v, want 100", got)
	}
	if entries[2].Level != zapcore.ErrorLevel || entries[2].ContextMap()["operation"] != "deep_memory_download" {
		t.Errorf("failure entry = %+v", entries[2])
	}
}
