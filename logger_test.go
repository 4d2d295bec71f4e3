package dxp

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}
}

func TestDefaultLogger_Methods(t *testing.T) {
	logger := defaultLogger()

	// These should not panic - just verify they can be called
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

func TestNewZapLogger_Nil(t *testing.T) {
	logger := NewZapLogger(nil)
	logger.Info("dropped")
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := withFields(NewZapLogger(zap.New(core)), "session", "abc")

	logger.Warn("decode loop stopped", "state", "accept_sent")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", entry.Level)
	}
	if entry.Message != "decode loop stopped" {
		t.Errorf("message = %q", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["session"] != "abc" {
		t.Errorf("session = %v, want abc", fields["session"])
	}
	if fields["state"] != "accept_sent" {
		t.Errorf("state = %v, want accept_sent", fields["state"])
	}
}

// mockLogger for testing Logger interface
type mockLogger struct {
	debugCalled bool
	infoCalled  bool
	warnCalled  bool
	errorCalled bool
	lastMsg     string
	lastArgs    []any
}

func (l *mockLogger) Debug(msg string, args ...any) {
	l.debugCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.infoCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.warnCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.errorCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func TestLogger_CustomImplementation(t *testing.T) {
	var logger Logger = &mockLogger{}

	mock := logger.(*mockLogger)

	logger.Debug("test debug", "key1", "value1")
	if !mock.debugCalled {
		t.Error("Debug not called")
	}
	if mock.lastMsg != "test debug" {
		t.Errorf("lastMsg = %s, want 'test debug'", mock.lastMsg)
	}

	logger.Info("test info")
	if !mock.infoCalled {
		t.Error("Info not called")
	}

	logger.Warn("test warn")
	if !mock.warnCalled {
		t.Error("Warn not called")
	}

	logger.Error("test error")
	if !mock.errorCalled {
		t.Error("Error not called")
	}
}

func TestWithFields_CustomLogger(t *testing.T) {
	mock := &mockLogger{}
	logger := withFields(mock, "session", "abc")

	logger.Info("connection established", "addr", "127.0.0.1:27531")

	if !mock.infoCalled {
		t.Fatal("Info not called")
	}
	want := []any{"session", "abc", "addr", "127.0.0.1:27531"}
	if len(mock.lastArgs) != len(want) {
		t.Fatalf("lastArgs = %v, want %v", mock.lastArgs, want)
	}
	for i := range want {
		if mock.lastArgs[i] != want[i] {
			t.Errorf("lastArgs[%d] = %v, want %v", i, mock.lastArgs[i], want[i])
		}
	}
}
