// Package correlation extracts or generates the id that ties a transform
// request to its logs, spans and dead-letter records.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderXCorrelationID = "X-Correlation-Id"
	HeaderXRequestID     = "X-Request-Id"
	HeaderTraceparent    = "Traceparent"
)

// Source values reported in ID.Source.
const (
	SourceGenerated = "generated"
)

type ID struct {
	Value  string
	Source string
}

// FromHeaders extracts the correlation ID or generates a new UUID.
// Priority: x-correlation-id > x-request-id > traceparent trace id > new UUID
func FromHeaders(h http.Header) ID {
	if id := strings.TrimSpace(h.Get(HeaderXCorrelationID)); id != "" {
		return ID{Value: id, Source: HeaderXCorrelationID}
	}
	if id := strings.TrimSpace(h.Get(HeaderXRequestID)); id != "" {
		return ID{Value: id, Source: HeaderXRequestID}
	}
	if traceID := extractTraceID(h.Get(HeaderTraceparent)); traceID != "" {
		return ID{Value: traceID, Source: HeaderTraceparent}
	}
	return ID{Value: uuid.New().String(), Source: SourceGenerated}
}

// extractTraceID parses W3C traceparent format: version-traceid-parentid-flags
func extractTraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) >= 2 && len(parts[1]) == 32 {
		return parts[1]
	}
	return ""
}

type ctxKey struct{}

// WithID stores id in ctx.
func WithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id stored by WithID.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(ctxKey{}).(ID)
	return id, ok
}
