package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic to create when missing.
type TopicSpec struct {
	Name              string `yaml:"name"`
	Partitions        int32  `yaml:"partitions"`
	ReplicationFactor int16  `yaml:"replicationFactor"`
}

// topicCreator abstracts the kadm client for testing.
type topicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// EnsureTopic creates the topic unless it already exists. Zero partitions
// or replication factor use the broker defaults.
func EnsureTopic(ctx context.Context, cluster *ClusterConfig, spec TopicSpec) error {
	opts, err := ClientOptions(cluster)
	if err != nil {
		return fmt.Errorf("cluster options: %w", err)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()

	return ensureTopic(ctx, kadm.NewClient(client), spec)
}

func ensureTopic(ctx context.Context, admin topicCreator, spec TopicSpec) error {
	if spec.Name == "" {
		return errors.New("topic name is required")
	}
	partitions, rf := spec.Partitions, spec.ReplicationFactor
	if partitions == 0 {
		partitions = -1
	}
	if rf == 0 {
		rf = -1
	}

	resps, err := admin.CreateTopics(ctx, partitions, rf, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	resp, ok := resps[spec.Name]
	if !ok {
		return fmt.Errorf("create topic %s: no response", spec.Name)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", spec.Name, resp.Err)
	}
	return nil
}
