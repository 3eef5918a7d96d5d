// Package kafka publishes persisted audit events to a Kafka topic, keyed by
// correlation id so one request's events land on one partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "warden/pkg/platform/audit"
)

// Sink implements audit.Sink with a franz-go client.
type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects to brokers. The client is created lazily by franz-go; use
// EnsureTopic to fail fast on an unreachable cluster.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: create client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

// EnsureTopic creates the audit topic if it does not exist.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("kafka sink: create topic: %w", err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka sink: create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Publish produces events synchronously and returns the first failure.
func (s *Sink) Publish(ctx context.Context, events []audit.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("kafka sink: marshal event %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(e.CorrelationID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "action", Value: []byte(e.Action)},
				{Key: "category", Value: []byte(e.Category)},
			},
		})
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka sink: produce: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
