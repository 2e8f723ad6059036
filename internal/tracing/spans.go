package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrBatchSize     = "chameleon.batch.size"
	AttrBatchMode     = "chameleon.batch.mode"
	AttrBatchFailed   = "chameleon.batch.failed"
	AttrCategory      = "chameleon.event.category"
	AttrMessageID     = "chameleon.event.message_id"
	AttrDestinationID = "chameleon.destination.id"
	AttrCorrelationID = "chameleon.correlation_id"
	AttrErrorType     = "error.type"
	AttrDLQAttempts   = "chameleon.dlq.attempts"
)

const (
	SpanBatch     = "chameleon.batch"
	SpanTransform = "chameleon.transform"
	SpanDLQ       = "chameleon.dlq.publish"
)

// StartSpan starts a span, or returns the current span when tracer is nil.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records err on the span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span successful.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func BatchSizeAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

func BatchModeAttr(mode string) attribute.KeyValue {
	return attribute.String(AttrBatchMode, mode)
}

func BatchFailedAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchFailed, n)
}

func CategoryAttr(category string) attribute.KeyValue {
	return attribute.String(AttrCategory, category)
}

func MessageIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrMessageID, id)
}

func DestinationAttr(id string) attribute.KeyValue {
	return attribute.String(AttrDestinationID, id)
}

func CorrelationAttr(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

func AttemptsAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrDLQAttempts, n)
}
