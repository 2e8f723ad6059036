package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/chameleon/internal/retry"
)

// producer abstracts the kgo client methods used by Publisher.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Publisher writes records to Kafka. It implements dlq.Publisher.
type Publisher struct {
	client producer
}

// NewPublisher creates a publisher for the cluster. The client connects
// lazily on first produce.
func NewPublisher(cluster *ClusterConfig) (*Publisher, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if err := cluster.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}

	opts, err := ClientOptions(cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher client: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Publish synchronously sends one record. Broker errors Kafka reports as
// non-retriable are marked with retry.Permanent.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		err = fmt.Errorf("kafka publish: %w", err)
		var ke *kerr.Error
		if errors.As(err, &ke) && !ke.Retriable {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

// Close flushes and shuts down the client.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
