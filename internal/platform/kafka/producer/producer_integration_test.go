//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"huddle/internal/platform/kafka/producer"
	"huddle/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.kafka = mgr.GetKafka(s.T())

	prod, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

// Async produce is buffered; the broker must still end up with the record.
func (s *ProducerIntegrationSuite) TestProduceAsyncDeliversMessage() {
	ctx := context.Background()
	topic := "huddle-test-produce-async"

	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	err := s.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Key:   []byte("async-key"),
		Value: []byte(`{"type":"user.logged_in"}`),
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "huddle-test-async-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "async-key"
	})
	s.Require().NotNil(record, "buffered message should reach the broker")
	s.Equal(`{"type":"user.logged_in"}`, string(record.Value))
}

func (s *ProducerIntegrationSuite) TestProduceAsyncPreservesHeaders() {
	ctx := context.Background()
	topic := "huddle-test-produce-headers"

	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	err := s.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Key:   []byte("header-key"),
		Value: []byte("header-value"),
		Headers: map[string]string{
			"event_type": "session.revoked",
			"request_id": "req-123",
		},
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "huddle-test-headers-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "header-key"
	})
	s.Require().NotNil(record)

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal("session.revoked", headers["event_type"])
	s.Equal("req-123", headers["request_id"])
}

// The producer allows auto topic creation so the activity topic does not need
// out-of-band provisioning in dev environments.
func (s *ProducerIntegrationSuite) TestProduceToNonExistentTopicAutoCreates() {
	ctx := context.Background()
	topic := "huddle-test-auto-" + time.Now().Format("20060102150405")

	err := s.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Key:   []byte("auto-key"),
		Value: []byte("auto-value"),
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "huddle-test-auto-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "auto-key"
	})
	s.Require().NotNil(record, "message should be consumable from auto-created topic")
}

func (s *ProducerIntegrationSuite) TestProducerHealthy() {
	s.True(s.producer.Healthy(context.Background()))
}

func (s *ProducerIntegrationSuite) TestProduceAfterCloseFails() {
	prod, err := producer.New(producer.Config{Brokers: s.kafka.Brokers}, nil)
	s.Require().NoError(err)
	s.Require().NoError(prod.Close())

	err = prod.ProduceAsync(&producer.Message{Topic: "huddle-test-closed", Value: []byte("x")})
	s.Error(err)
}
