// Package batch runs the Chameleon transformer over a batch of routed events,
// isolating each event's failure from its siblings.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/chameleon/internal/chameleon"
	"github.com/lsm/chameleon/internal/correlation"
	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/observability"
	"github.com/lsm/chameleon/internal/tracing"
)

const (
	ModeProcess = "process"
	ModeRouter  = "router"
)

// Processor transforms batches. It holds no per-batch state and is safe for
// concurrent use.
type Processor struct {
	transformer *chameleon.Transformer
	logger      *observability.TraceLogger
	metrics     *observability.Metrics
	tracer      trace.Tracer
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = observability.NewTraceLogger(l)
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithTracer enables per-batch and per-event spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		p.tracer = t
	}
}

// New creates a Processor around tr.
func New(tr *chameleon.Transformer, opts ...Option) *Processor {
	p := &Processor{
		transformer: tr,
		logger:      observability.NewTraceLogger(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process returns one Result per event, in input order. Successful events
// carry the bare request.
func (p *Processor) Process(ctx context.Context, events []event.RoutedEvent) []Result {
	return p.run(ctx, ModeProcess, events, func(_ event.RoutedEvent, req *chameleon.Request) Result {
		return Result{Request: req}
	})
}

// ProcessRouterDest is Process with each successful request wrapped in a
// router envelope carrying the original message, metadata and destination.
func (p *Processor) ProcessRouterDest(ctx context.Context, events []event.RoutedEvent) []Result {
	return p.run(ctx, ModeRouter, events, func(ev event.RoutedEvent, req *chameleon.Request) Result {
		return Result{Router: newRouterSuccess(ev, req)}
	})
}

func (p *Processor) run(ctx context.Context, mode string, events []event.RoutedEvent, wrap func(event.RoutedEvent, *chameleon.Request) Result) []Result {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanBatch,
		trace.WithAttributes(
			tracing.BatchModeAttr(mode),
			tracing.BatchSizeAttr(len(events)),
		),
	)
	defer span.End()

	results := make([]Result, len(events))
	failed := 0
	for i, ev := range events {
		req, err := p.transformOne(ctx, ev)
		if err != nil {
			failed++
			results[i] = Result{Failure: newErrorResult(ev, err)}
			continue
		}
		results[i] = wrap(ev, req)
	}

	span.SetAttributes(tracing.BatchFailedAttr(failed))
	tracing.SetSpanOK(span)

	if p.metrics != nil {
		p.metrics.BatchSize.Observe(float64(len(events)))
		p.metrics.BatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
	p.logger.Debug(ctx, "batch transformed",
		"mode", mode,
		"events", len(events),
		"failed", failed,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return results
}

func (p *Processor) transformOne(ctx context.Context, ev event.RoutedEvent) (req *chameleon.Request, err error) {
	category := "unknown"
	if c, cerr := chameleon.Classify(ev.Message); cerr == nil {
		category = c.String()
	}

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanTransform,
		trace.WithAttributes(
			tracing.CategoryAttr(category),
			tracing.MessageIDAttr(ev.MessageID()),
			tracing.DestinationAttr(ev.Destination.ID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			req, err = nil, fmt.Errorf("transform panic: %v", r)
		}
		p.record(ctx, span, ev, category, err)
	}()

	return p.transformer.ProcessSingleEvent(ev.Message, ev.Destination)
}

func (p *Processor) record(ctx context.Context, span trace.Span, ev event.RoutedEvent, category string, err error) {
	if err == nil {
		tracing.SetSpanOK(span)
		if p.metrics != nil {
			p.metrics.EventsTotal.WithLabelValues(category, "success").Inc()
		}
		return
	}

	errType := ErrorTypePlatform
	if kind := chameleon.KindOf(err); kind != 0 {
		errType = kind.String()
	}
	span.SetAttributes(tracing.ErrorTypeAttr(errType))
	tracing.SetSpanError(span, err)
	if p.metrics != nil {
		p.metrics.EventsTotal.WithLabelValues(category, "error").Inc()
		p.metrics.TransformErrors.WithLabelValues(errType).Inc()
	}
	args := []any{
		"category", category,
		"error_type", errType,
		"message_id", ev.MessageID(),
		"destination_id", ev.Destination.ID,
		"error", err,
	}
	if id, ok := correlation.FromContext(ctx); ok {
		args = append(args, "correlation_id", id.Value)
	}
	p.logger.Warn(ctx, "event transform failed", args...)
}
