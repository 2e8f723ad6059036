package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/chameleon/internal/retry"
)

type mockProducer struct {
	results kgo.ProduceResults
	records []*kgo.Record
	closed  bool
	pingErr error
}

func (m *mockProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	m.records = append(m.records, rs...)
	return m.results
}

func (m *mockProducer) Ping(context.Context) error {
	return m.pingErr
}

func (m *mockProducer) Close() {
	m.closed = true
}

func TestNewPublisher_NilConfig(t *testing.T) {
	if _, err := NewPublisher(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewPublisher_InvalidConfig(t *testing.T) {
	if _, err := NewPublisher(&ClusterConfig{}); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestNewPublisher_ValidConfig(t *testing.T) {
	pub, err := NewPublisher(&ClusterConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
}

func TestPublisher_Publish(t *testing.T) {
	mp := &mockProducer{results: kgo.ProduceResults{{Record: &kgo.Record{}}}}
	pub := &Publisher{client: mp}

	err := pub.Publish(context.Background(), "chameleon-dlq", []byte("msg-1"), []byte(`{"a":1}`), map[string]string{
		"chameleon-error-type": "instrumentation",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mp.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(mp.records))
	}
	rec := mp.records[0]
	if rec.Topic != "chameleon-dlq" || string(rec.Key) != "msg-1" || string(rec.Value) != `{"a":1}` {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.Headers) != 1 || rec.Headers[0].Key != "chameleon-error-type" || string(rec.Headers[0].Value) != "instrumentation" {
		t.Errorf("unexpected headers %+v", rec.Headers)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	mp := &mockProducer{results: kgo.ProduceResults{{Err: errors.New("broker down")}}}
	pub := &Publisher{client: mp}
	err := pub.Publish(context.Background(), "t", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, mp.results[0].Err) {
		t.Errorf("expected wrapped broker error, got %v", err)
	}
}

func TestPublisher_PublishErrorRetriability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"record too large", kerr.MessageTooLarge, true},
		{"leader moving", kerr.NotLeaderForPartition, false},
		{"client side", errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &Publisher{client: &mockProducer{results: kgo.ProduceResults{{Err: tt.err}}}}
			err := pub.Publish(context.Background(), "t", nil, nil, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := retry.IsPermanent(err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v (%v)", got, tt.permanent, err)
			}
		})
	}
}

func TestPublisher_Close(t *testing.T) {
	mp := &mockProducer{}
	pub := &Publisher{client: mp}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !mp.closed {
		t.Error("expected client to be closed")
	}
}

func TestPublisher_Ping(t *testing.T) {
	pub := &Publisher{client: &mockProducer{}}
	if err := pub.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pub = &Publisher{client: &mockProducer{pingErr: errors.New("no brokers")}}
	if err := pub.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
