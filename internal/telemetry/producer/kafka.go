package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"taskboard-auth/backend/internal/telemetry"
)

const writeTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer used by KafkaProducer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go. Messages are keyed by user ID
// so one user's events stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaProducer creates a producer that writes events to topic. Returns nil when brokers
// or topic are empty so callers can treat events as disabled. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic}
}

// Emit serializes the event as JSON and writes it to the topic under a short timeout.
func (p *KafkaProducer) Emit(ctx context.Context, event *telemetry.Event) error {
	if p == nil || p.writer == nil || event == nil {
		return nil
	}
	msg, err := encode(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(event *telemetry.Event) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Value: payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if event.UserID != "" {
		msg.Key = []byte(event.UserID)
	}
	return msg, nil
}
