package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
)

const (
	headerRequestID   = "request-id"
	headerContentType = "content-type"
	contentTypeJSON   = "application/json"
)

// Event is one message. Key selects the partition, so events for the same
// document stay ordered. Value is encoded as JSON.
type Event struct {
	Key   string
	Value any
}

// Publisher is the write side services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishBatch(ctx context.Context, events []Event) error
}

type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one event synchronously. The request ID carried by ctx, if
// any, travels in a message header so consumers can correlate their logs.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in one call. Nothing is written if any event
// fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	requestID := logger.RequestID(ctx)
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := encode(event, requestID)
		if err != nil {
			return err
		}
		messages[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		logger.FromContext(ctx).Error("kafka write failed",
			"topic", p.topic,
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("publishing %d message(s) to %s: %w", len(messages), p.topic, err)
	}
	p.logger.Debug("published", "count", len(messages), "first_key", events[0].Key)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(event Event, requestID string) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event %q: %w", event.Key, err)
	}
	headers := []kafka.Header{{Key: headerContentType, Value: []byte(contentTypeJSON)}}
	if requestID != "" {
		headers = append(headers, kafka.Header{Key: headerRequestID, Value: []byte(requestID)})
	}
	return kafka.Message{
		Key:     []byte(event.Key),
		Value:   value,
		Headers: headers,
	}, nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
