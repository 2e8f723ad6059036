package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lsm/chameleon/internal/chameleon"
	"github.com/lsm/chameleon/internal/correlation"
	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/observability"
)

var testDest = event.Destination{
	ID:     "dest-1",
	Config: map[string]interface{}{"accountSecret": "test-account-secret-123"},
}

func newTestProcessor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	tr, err := chameleon.NewTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	return New(tr, opts...)
}

func routed(msg event.Event) event.RoutedEvent {
	return event.RoutedEvent{Message: msg, Destination: testDest}
}

func TestProcess_MultipleEvents(t *testing.T) {
	p := newTestProcessor(t)
	results := p.Process(context.Background(), []event.RoutedEvent{
		routed(event.Event{"type": "identify", "userId": "user123", "traits": map[string]interface{}{"email": "test@example.com"}}),
		routed(event.Event{"type": "track", "event": "Page Viewed", "userId": "user123"}),
		routed(event.Event{"type": "group", "groupId": "company123", "traits": map[string]interface{}{"name": "Acme Corp"}}),
		routed(event.Event{"type": "page", "userId": "user123"}),
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	suffixes := []string{"/profiles", "/events", "/companies", "/events"}
	for i, r := range results {
		if !r.OK() || r.Request == nil {
			t.Fatalf("result %d: expected request, got failure %+v", i, r.Failure)
		}
		if r.Router != nil {
			t.Errorf("result %d: process mode must not wrap", i)
		}
		if !strings.HasSuffix(r.Request.Endpoint, suffixes[i]) {
			t.Errorf("result %d: expected suffix %s, got %s", i, suffixes[i], r.Request.Endpoint)
		}
	}
}

func TestProcess_MixedSuccessAndError(t *testing.T) {
	p := newTestProcessor(t)
	results := p.Process(context.Background(), []event.RoutedEvent{
		routed(event.Event{"type": "identify", "userId": "user123"}),
		routed(event.Event{"type": "invalid", "userId": "user123"}),
		routed(event.Event{"type": "track", "userId": "user123"}),
		{Message: event.Event{"type": "identify", "userId": "u"}, Destination: event.Destination{Config: map[string]interface{}{}}},
		routed(event.Event{"type": "track", "event": "Purchase", "userId": "user123"}),
	})

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if !results[0].OK() || !results[4].OK() {
		t.Fatal("expected first and last events to succeed")
	}

	failures := []struct {
		idx      int
		errType  string
		contains string
	}{
		{1, "instrumentation", "identify, track, page, group"},
		{2, "instrumentation", "Event name is required"},
		{3, "configuration", "Account secret is required"},
	}
	for _, f := range failures {
		r := results[f.idx]
		if r.OK() {
			t.Fatalf("result %d: expected failure", f.idx)
		}
		if r.Request != nil || r.Router != nil {
			t.Errorf("result %d: failure must not carry a request", f.idx)
		}
		if r.Failure.StatusCode != 400 {
			t.Errorf("result %d: expected status 400, got %d", f.idx, r.Failure.StatusCode)
		}
		if r.Failure.StatTags.ErrorCategory != "transformation" {
			t.Errorf("result %d: expected transformation category, got %s", f.idx, r.Failure.StatTags.ErrorCategory)
		}
		if r.Failure.StatTags.ErrorType != f.errType {
			t.Errorf("result %d: expected error type %s, got %s", f.idx, f.errType, r.Failure.StatTags.ErrorType)
		}
		if !strings.Contains(r.Failure.Error, f.contains) {
			t.Errorf("result %d: expected %q in %q", f.idx, f.contains, r.Failure.Error)
		}
	}
}

func TestProcess_AllFailing(t *testing.T) {
	p := newTestProcessor(t)
	events := []event.RoutedEvent{
		routed(event.Event{}),
		routed(event.Event{"type": "group"}),
		routed(event.Event{"type": "identify"}),
	}
	results := p.Process(context.Background(), events)
	if len(results) != len(events) {
		t.Fatalf("expected %d results, got %d", len(events), len(results))
	}
	want := []string{"Message type is required", "Group ID (groupId) is required", "Either userId or anonymousId is required"}
	for i, r := range results {
		if r.OK() {
			t.Fatalf("result %d: expected failure", i)
		}
		if !strings.Contains(r.Failure.Error, want[i]) {
			t.Errorf("result %d: expected %q, got %q", i, want[i], r.Failure.Error)
		}
	}
}

func TestProcess_Empty(t *testing.T) {
	p := newTestProcessor(t)
	if got := p.Process(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestProcessRouterDest(t *testing.T) {
	p := newTestProcessor(t)
	meta := &event.Metadata{JobID: "7", DestinationID: "dest-1"}
	msg := event.Event{"type": "track", "event": "Purchase", "userId": "user123", "properties": map[string]interface{}{"amount": 99.99}}
	results := p.ProcessRouterDest(context.Background(), []event.RoutedEvent{
		{Message: msg, Destination: testDest, Metadata: meta},
		{Message: event.Event{"type": "track"}, Destination: testDest, Metadata: meta},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	r := results[0]
	if r.Router == nil || r.Request != nil {
		t.Fatalf("expected router envelope only, got %+v", r)
	}
	if len(r.Router.BatchedRequest) != 1 || !strings.HasSuffix(r.Router.BatchedRequest[0].Endpoint, "/events") {
		t.Errorf("unexpected batched request %+v", r.Router.BatchedRequest)
	}
	if r.Router.StatusCode != 200 || !r.Router.Batched {
		t.Errorf("unexpected envelope flags %+v", r.Router)
	}
	if len(r.Router.Metadata) != 1 || r.Router.Metadata[0] != meta {
		t.Errorf("expected metadata echoed, got %v", r.Router.Metadata)
	}
	if r.Router.Message["event"] != "Purchase" || r.Router.Destination.ID != "dest-1" {
		t.Errorf("expected message and destination carried, got %+v", r.Router)
	}

	f := results[1].Failure
	if f == nil {
		t.Fatal("expected second event to fail")
	}
	if len(f.Metadata) != 1 || f.Metadata[0] != meta {
		t.Errorf("expected metadata on failure, got %v", f.Metadata)
	}
	if f.Destination == nil || f.Destination.ID != "dest-1" {
		t.Errorf("expected destination on failure, got %v", f.Destination)
	}
}

func TestProcess_IdempotentJSON(t *testing.T) {
	p := newTestProcessor(t)
	events := []event.RoutedEvent{
		routed(event.Event{"type": "identify", "userId": "u1", "traits": map[string]interface{}{"email": "a@b.c", "plan": nil}}),
		routed(event.Event{"type": "unknown"}),
		routed(event.Event{"type": "page", "properties": map[string]interface{}{"url": "https://x"}}),
	}

	first, err := json.Marshal(p.Process(context.Background(), events))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, _ := json.Marshal(p.Process(context.Background(), events))
	if !bytes.Equal(first, second) {
		t.Errorf("expected byte-identical output:\n%s\n%s", first, second)
	}

	router1, _ := json.Marshal(p.ProcessRouterDest(context.Background(), events))
	router2, _ := json.Marshal(p.ProcessRouterDest(context.Background(), events))
	if !bytes.Equal(router1, router2) {
		t.Error("expected byte-identical router output")
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	p := newTestProcessor(t)
	results := p.Process(context.Background(), []event.RoutedEvent{
		routed(event.Event{"type": "identify", "userId": "u1"}),
		routed(event.Event{"type": "track"}),
	})
	out, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded[0]["endpoint"] != "https://api.chameleon.io/v3/observe/hooks/test-account-secret-123/profiles" {
		t.Errorf("unexpected endpoint %v", decoded[0]["endpoint"])
	}
	if _, ok := decoded[0]["error"]; ok {
		t.Error("success must not carry an error")
	}
	body := decoded[0]["body"].(map[string]interface{})
	if body["JSON"].(map[string]interface{})["uid"] != "u1" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := decoded[1]["endpoint"]; ok {
		t.Error("failure must not carry an endpoint")
	}
	tags := decoded[1]["statTags"].(map[string]interface{})
	if tags["errorCategory"] != "transformation" || tags["errorType"] != "instrumentation" {
		t.Errorf("unexpected stat tags %v", tags)
	}

	if _, err := json.Marshal(Result{}); err == nil {
		t.Error("expected error for empty result")
	}
}

func TestProcess_RecordsMetricsAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "test", slog.LevelDebug)

	p := newTestProcessor(t, WithMetrics(m), WithLogger(logger))
	p.Process(context.Background(), []event.RoutedEvent{
		routed(event.Event{"type": "identify", "userId": "u1"}),
		routed(event.Event{"type": "identify", "userId": "u2"}),
		routed(event.Event{"type": "group", "messageId": "m-3"}),
		routed(event.Event{"type": "bogus"}),
	})

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("identify", "success")); got != 2 {
		t.Errorf("expected 2 identify successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("group", "error")); got != 1 {
		t.Errorf("expected 1 group error, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("unknown", "error")); got != 1 {
		t.Errorf("expected 1 unknown error, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransformErrors.WithLabelValues("instrumentation")); got != 2 {
		t.Errorf("expected 2 instrumentation errors, got %v", got)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"message_id":"m-3"`) {
		t.Errorf("expected failure log with message id, got %s", logs)
	}
	if !strings.Contains(logs, `"msg":"batch transformed"`) {
		t.Errorf("expected batch summary log, got %s", logs)
	}
}

func TestProcess_FailureLogCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "test", slog.LevelDebug)
	p := newTestProcessor(t, WithLogger(logger))

	ctx := correlation.WithID(context.Background(), correlation.ID{Value: "corr-9", Source: correlation.HeaderXRequestID})
	p.Process(ctx, []event.RoutedEvent{routed(event.Event{"type": "bogus"})})

	if !strings.Contains(buf.String(), `"correlation_id":"corr-9"`) {
		t.Errorf("expected correlation id in failure log, got %s", buf.String())
	}

	buf.Reset()
	p.Process(context.Background(), []event.RoutedEvent{routed(event.Event{"type": "bogus"})})
	if strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("expected no correlation id without one in context, got %s", buf.String())
	}
}

func TestProcess_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := newTestProcessor(t, WithTracer(tp.Tracer("test")))

	p.Process(context.Background(), []event.RoutedEvent{
		routed(event.Event{"type": "track", "event": "x", "userId": "u"}),
		routed(event.Event{"type": "track"}),
	})

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 2 event spans and 1 batch span, got %d", len(spans))
	}
	if spans[2].Name() != "chameleon.batch" {
		t.Errorf("expected batch span last, got %s", spans[2].Name())
	}
	if spans[0].Name() != "chameleon.transform" || spans[0].Parent().SpanID() != spans[2].SpanContext().SpanID() {
		t.Error("expected transform span as child of batch span")
	}
}
