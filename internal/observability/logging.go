package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LogLevelEnv names the environment variable consulted by GetLogLevel.
const LogLevelEnv = "CHAMELEON_LOG_LEVEL"

// NewLogger creates a structured JSON logger writing to stdout. Passing a
// *slog.LevelVar lets the level be changed after construction.
func NewLogger(component string, level slog.Leveler) *slog.Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, component string, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With("component", component)
}

// TraceLogger wraps a logger to add trace_id and span_id from the context.
type TraceLogger struct {
	logger *slog.Logger
}

// NewTraceLogger creates a TraceLogger. A nil logger uses slog.Default().
func NewTraceLogger(logger *slog.Logger) *TraceLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceLogger{logger: logger}
}

// WithTraceContext returns a logger carrying the span ids of ctx, if any.
func (l *TraceLogger) WithTraceContext(ctx context.Context) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return l.logger
	}

	return l.logger.With(
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	)
}

func (l *TraceLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).Debug(msg, args...)
}

func (l *TraceLogger) Info(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).Info(msg, args...)
}

func (l *TraceLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).Warn(msg, args...)
}

func (l *TraceLogger) Error(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).Error(msg, args...)
}

// With returns a new TraceLogger with additional key-value pairs.
func (l *TraceLogger) With(args ...any) *TraceLogger {
	return &TraceLogger{logger: l.logger.With(args...)}
}

// ParseLogLevel parses debug, info, warn or error (case-insensitive).
// Anything else yields LevelInfo.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogLevel returns the effective level. Precedence is the flag value,
// then CHAMELEON_LOG_LEVEL, then the configured level, then info.
func GetLogLevel(flagLevel, configured string) slog.Level {
	if flagLevel != "" {
		return ParseLogLevel(flagLevel)
	}
	if envLevel := os.Getenv(LogLevelEnv); envLevel != "" {
		return ParseLogLevel(envLevel)
	}
	return ParseLogLevel(configured)
}
