package phoneauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes audit events to a Kafka topic via a sarama sync
// producer. Events are keyed by subject id so one subject's trail lands in
// one partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink connects a sync producer to the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}, nil
}

// NewKafkaSinkFromProducer wraps an existing producer, used by tests.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Emit publishes the event. Publish failures are logged, never surfaced;
// the dispatcher must not stall on a broker outage.
func (s *KafkaSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.producer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit event marshal failed", "event_type", event.EventType, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.SubjectID),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.Error("audit publish failed", "topic", s.topic, "error", err)
	}
}

// Close shuts the underlying producer down.
func (s *KafkaSink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
