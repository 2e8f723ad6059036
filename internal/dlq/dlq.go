// Package dlq publishes events that failed transformation to a dead-letter
// topic so they can be inspected and replayed.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/chameleon/internal/batch"
	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/observability"
	"github.com/lsm/chameleon/internal/retry"
	"github.com/lsm/chameleon/internal/tracing"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "chameleon-dlq"

// DefaultPublishTimeout bounds a single publish attempt.
const DefaultPublishTimeout = 5 * time.Second

// Header keys set on every dead-letter record.
const (
	HeaderErrorType     = "chameleon-error-type"
	HeaderStatusCode    = "chameleon-status-code"
	HeaderDestinationID = "chameleon-destination-id"
	HeaderMessageID     = "chameleon-message-id"
	HeaderCorrelationID = "chameleon-correlation-id"
	HeaderFailedAt      = "chameleon-failed-at"
)

// Publisher is the interface for publishing messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// Letter is the record value: the original input alongside its failure.
type Letter struct {
	Message     event.Event        `json:"message"`
	Destination event.Destination  `json:"destination"`
	Metadata    *event.Metadata    `json:"metadata,omitempty"`
	Failure     *batch.ErrorResult `json:"failure"`
}

// Handler publishes failed events to a dead-letter topic.
type Handler struct {
	publisher Publisher
	topic     string
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	retry     retry.Policy
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithTopic overrides DefaultTopic. Empty values are ignored.
func WithTopic(topic string) Option {
	return func(h *Handler) {
		if topic != "" {
			h.topic = topic
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics enables chameleon_dlq_total accounting.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTracer records a span per published record.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithRetry retries failed publishes. The default makes a single attempt.
func WithRetry(p retry.Policy) Option {
	return func(h *Handler) { h.retry = p }
}

// WithPublishTimeout bounds each publish attempt. Non-positive values are
// ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler creates a new DLQ handler.
func NewHandler(pub Publisher, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topic:     DefaultTopic,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("dlq"),
		retry:     retry.Policy{MaxAttempts: 1},
		timeout:   DefaultPublishTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Topic returns the dead-letter topic name.
func (h *Handler) Topic() string { return h.topic }

// Send publishes one failed event. The record key is the message id.
func (h *Handler) Send(ctx context.Context, ev event.RoutedEvent, failure *batch.ErrorResult, correlationID string) error {
	if failure == nil {
		return fmt.Errorf("dlq: nil failure for message %q", ev.MessageID())
	}

	ctx, span := tracing.StartSpan(ctx, h.tracer, tracing.SpanDLQ, trace.WithAttributes(
		tracing.MessageIDAttr(ev.MessageID()),
		tracing.DestinationAttr(ev.Destination.ID),
		tracing.ErrorTypeAttr(failure.StatTags.ErrorType),
		tracing.CorrelationAttr(correlationID),
	))
	defer span.End()

	value, err := json.Marshal(Letter{
		Message:     ev.Message,
		Destination: ev.Destination,
		Metadata:    ev.Metadata,
		Failure:     failure,
	})
	if err != nil {
		tracing.SetSpanError(span, err)
		return retry.Permanent(fmt.Errorf("dlq encode: %w", err))
	}

	headers := map[string]string{
		HeaderErrorType:     failure.StatTags.ErrorType,
		HeaderStatusCode:    strconv.Itoa(failure.StatusCode),
		HeaderDestinationID: ev.Destination.ID,
		HeaderMessageID:     ev.MessageID(),
		HeaderCorrelationID: correlationID,
		HeaderFailedAt:      h.now().UTC().Format(time.RFC3339),
	}

	attempts, err := retry.Do(ctx, h.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		return h.publisher.Publish(ctx, h.topic, []byte(ev.MessageID()), value, headers)
	})
	span.SetAttributes(tracing.AttemptsAttr(attempts))
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("dlq publish to %s after %d attempt(s): %w", h.topic, attempts, err)
	}
	tracing.SetSpanOK(span)
	return nil
}

// Forward publishes every failed result of a batch. events and results are
// index-aligned. Publish errors are logged and counted but never returned;
// the number of records published is.
func (h *Handler) Forward(ctx context.Context, events []event.RoutedEvent, results []batch.Result, correlationID string) int {
	published := 0
	for i, res := range results {
		if res.OK() || i >= len(events) {
			continue
		}
		if err := h.Send(ctx, events[i], res.Failure, correlationID); err != nil {
			h.count("error")
			h.logger.ErrorContext(ctx, "dead-letter publish failed",
				"error", err,
				"message_id", events[i].MessageID(),
				"correlation_id", correlationID,
			)
			continue
		}
		h.count("published")
		published++
	}
	return published
}

// Dispatch runs Forward in the background so the caller can answer its
// request first. The forward keeps ctx's values but not its cancellation.
// Close waits for dispatched batches. After Close, failures are dropped and
// counted as errors.
func (h *Handler) Dispatch(ctx context.Context, events []event.RoutedEvent, results []batch.Result, correlationID string) {
	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	if failed == 0 {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		for range failed {
			h.count("error")
		}
		h.logger.WarnContext(ctx, "dead-letter handler closed, dropping failures",
			"failed", failed,
			"correlation_id", correlationID,
		)
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer h.inflight.Done()
		h.Forward(ctx, events, results, correlationID)
	}()
}

func (h *Handler) count(status string) {
	if h.metrics != nil {
		h.metrics.DLQTotal.WithLabelValues(status).Inc()
	}
}

// Close waits for dispatched batches, then closes the publisher.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.inflight.Wait()
	return h.publisher.Close()
}

// NoopPublisher is a Publisher that discards all messages.
// Used when dead-lettering is disabled.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, []byte, []byte, map[string]string) error {
	return nil
}

func (*NoopPublisher) Close() error { return nil }
