package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("test message", "key", "value")
}

func TestNewLoggerTo_ComponentAndLevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := NewLoggerTo(&buf, "chameleon", level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("visible")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line: %v (%s)", err, buf.String())
	}
	if rec["component"] != "chameleon" {
		t.Errorf("expected component attr, got %v", rec["component"])
	}
	if rec["msg"] != "visible" {
		t.Errorf("expected msg visible, got %v", rec["msg"])
	}
}

func TestTraceLogger_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(NewLoggerTo(&buf, "test", slog.LevelInfo))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tl.Info(ctx, "with trace")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id, got %v", rec["trace_id"])
	}
	if rec["span_id"] == nil {
		t.Error("expected span_id")
	}
}

func TestTraceLogger_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(NewLoggerTo(&buf, "test", slog.LevelInfo)).With("batch", 1)
	tl.Warn(context.Background(), "plain")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Error("expected no trace_id without a span")
	}
	if rec["batch"] != float64(1) {
		t.Errorf("expected batch attr, got %v", rec["batch"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name       string
		flagLevel  string
		envLevel   string
		configured string
		expected   slog.Level
	}{
		{"flag takes precedence", "debug", "error", "warn", slog.LevelDebug},
		{"env used when flag empty", "", "warn", "error", slog.LevelWarn},
		{"configured used when flag and env empty", "", "", "error", slog.LevelError},
		{"default when all empty", "", "", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(LogLevelEnv, tt.envLevel)
			if got := GetLogLevel(tt.flagLevel, tt.configured); got != tt.expected {
				t.Errorf("GetLogLevel(%q, %q) = %v, want %v (env=%q)", tt.flagLevel, tt.configured, got, tt.expected, tt.envLevel)
			}
		})
	}
}
