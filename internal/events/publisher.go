// Package events publishes audit lifecycle events to Kafka. Publishing is
// strictly best-effort: a missing broker configuration yields a nil
// publisher whose methods no-op, and produce failures are logged, never
// returned to request handling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher emits JSON events to a single topic.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// envelope is the wire shape of one event.
type envelope struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// New connects to the brokers and ensures the topic exists. Returns nil when
// no brokers are configured so callers need not branch on availability.
func New(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// Already-exists is the steady state on restart.
		logger.DebugContext(ctx, "create topic", "topic", topic, "result", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	return &Publisher{
		client: client,
		topic:  topic,
		logger: logger,
	}, nil
}

// Publish emits one event asynchronously. Safe on a nil publisher.
func (p *Publisher) Publish(ctx context.Context, eventType string, attrs map[string]any) {
	if p == nil {
		return
	}
	record, err := newRecord(p.topic, eventType, attrs, time.Now().UTC())
	if err != nil {
		p.logger.WarnContext(ctx, "failed to encode event",
			"event_type", eventType,
			"error", err,
		)
		return
	}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.WarnContext(ctx, "failed to publish event",
				"event_type", eventType,
				"error", err,
			)
		}
	})
}

// Close drains in-flight records and releases the client. Safe on nil.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("failed to flush events", "error", err)
	}
	p.client.Close()
}

func newRecord(topic, eventType string, attrs map[string]any, now time.Time) (*kgo.Record, error) {
	value, err := json.Marshal(envelope{
		Type:       eventType,
		OccurredAt: now,
		Attributes: attrs,
	})
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(eventType),
		Value: value,
	}, nil
}
