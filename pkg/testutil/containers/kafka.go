//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer wraps a testcontainers Kafka instance.
type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   string
}

// NewKafkaContainer starts a new Kafka (Redpanda) container.
// Uses Redpanda for faster startup and Kafka compatibility.
func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()

	ctx := context.Background()

	container, err := kafka.Run(ctx,
		"redpandadata/redpanda:latest",
		kafka.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	kc := &KafkaContainer{
		Container: container,
		Brokers:   brokers[0],
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	return kc
}

// CreateTopic creates a topic with the given partition layout.
func (k *KafkaContainer) CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		return err
	}
	defer client.Close()

	admin := kadm.NewClient(client)
	_, err = admin.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	return err
}

// NewConsumer creates a franz-go consumer for verification in tests.
func (k *KafkaContainer) NewConsumer(ctx context.Context, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
}

// WaitForMessage polls the consumer until a record matching the predicate
// arrives or the timeout elapses. Returns nil on timeout.
func (k *KafkaContainer) WaitForMessage(ctx context.Context, consumer *kgo.Client, timeout time.Duration, match func(*kgo.Record) bool) *kgo.Record {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pollCtx, cancel := context.WithTimeout(ctx, time.Second)
		fetches := consumer.PollFetches(pollCtx)
		cancel()

		var found *kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if found == nil && match(r) {
				found = r
			}
		})
		if found != nil {
			return found
		}
	}
	return nil
}
