// Package events publishes engine failure events to an external
// observability collaborator over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/domain"
)

// Sink receives terminal failures, exhausted escalations, and repeated
// data-unavailable errors. Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event *domain.EngineEvent) error
	Close() error
}

// KafkaSink publishes engine events as JSON to a Kafka topic, keyed by
// deadline id so events for one deadline stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to the configured brokers
func NewKafkaSink(cfg *config.KafkaConfig) (*KafkaSink, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return &KafkaSink{producer: producer, topic: cfg.AlertsTopic}, nil
}

func (s *KafkaSink) Emit(_ context.Context, event *domain.EngineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal engine event: %w", err)
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.DeadlineID.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish engine event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

// NopSink discards events. Used when the Kafka sink is disabled.
type NopSink struct{}

func (NopSink) Emit(context.Context, *domain.EngineEvent) error { return nil }
func (NopSink) Close() error                                    { return nil }

// MemorySink records emitted events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []domain.EngineEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(_ context.Context, event *domain.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []domain.EngineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EngineEvent, len(s.events))
	copy(out, s.events)
	return out
}
