package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"huddle/internal/platform/kafka/producer"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_events_published_total",
		Help: "Domain events handed to the messaging channel",
	}, []string{"type"})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_events_dropped_total",
		Help: "Domain events dropped on send failure or disabled channel",
	}, []string{"type"})
)

// Channel is the fire-and-forget messaging abstraction the dispatcher writes
// to. Transport mechanics live behind it.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Dispatcher routes domain events to the messaging channel, deferring to the
// active unit of work when one is present so nothing is published for state
// changes that never commit.
//
// Delivery is at-most-once by design: a send failure is logged and swallowed,
// never retried, and never surfaced to the request that produced the event.
type Dispatcher struct {
	channel Channel
	topic   string
	logger  *slog.Logger
}

// NewDispatcher builds a dispatcher publishing to topic. channel may be nil
// (messaging not configured); events are then counted as dropped.
func NewDispatcher(channel Channel, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{channel: channel, topic: topic, logger: logger}
}

// Publish hands the event to the messaging channel. With an active unit of
// work in ctx, the send is deferred until that unit commits; otherwise it is
// sent immediately.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if u, ok := UnitOfWorkFrom(ctx); ok {
		u.OnCommit(func(hookCtx context.Context) {
			d.send(hookCtx, event)
		})
		return
	}
	d.send(ctx, event)
}

// send performs the actual fire-and-forget publish. Failures are absorbed so
// a messaging outage never fails the user-facing request.
func (d *Dispatcher) send(ctx context.Context, event Event) {
	if d.channel == nil {
		eventsDropped.WithLabelValues(event.Type).Inc()
		d.logger.DebugContext(ctx, "messaging channel not configured, dropping event",
			"type", event.Type,
		)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		eventsDropped.WithLabelValues(event.Type).Inc()
		d.logger.ErrorContext(ctx, "failed to marshal domain event",
			"error", err,
			"type", event.Type,
		)
		return
	}

	if err := d.channel.Publish(ctx, d.topic, payload); err != nil {
		eventsDropped.WithLabelValues(event.Type).Inc()
		d.logger.ErrorContext(ctx, "failed to publish domain event",
			"error", err,
			"type", event.Type,
		)
		return
	}
	eventsPublished.WithLabelValues(event.Type).Inc()
}

// KafkaChannel adapts the platform Kafka producer to the Channel interface.
// ProduceAsync buffers and reports delivery failures via the producer's own
// logger; the dispatcher treats a successful hand-off as published.
type KafkaChannel struct {
	producer *producer.Producer
}

// NewKafkaChannel wraps an initialized producer.
func NewKafkaChannel(p *producer.Producer) *KafkaChannel {
	return &KafkaChannel{producer: p}
}

func (c *KafkaChannel) Publish(_ context.Context, topic string, payload []byte) error {
	return c.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Value: payload,
	})
}
