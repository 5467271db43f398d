// Package kafka wraps segmentio/kafka-go for the platform's JSON events.
// Consumers run each message through a MessageHandler and commit it once the
// handler succeeds. Failed messages are retried with backoff; a message that
// still fails is logged and committed so one bad event cannot stall its
// partition. Handlers drop undecodable messages by returning nil.
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
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/resilience"
)

// MessageHandler processes one message. The context carries the producer's
// request ID when the message has one.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type consumerSettings struct {
	reader kafka.ReaderConfig
	retry  resilience.RetryConfig
}

type ConsumerOption func(*consumerSettings)

// WithGroupID overrides the configured consumer group. Services that must
// each see every message on a topic use distinct groups.
func WithGroupID(groupID string) ConsumerOption {
	return func(s *consumerSettings) { s.reader.GroupID = groupID }
}

// FromEarliest makes a new consumer group start at the oldest retained
// message instead of the newest.
func FromEarliest() ConsumerOption {
	return func(s *consumerSettings) { s.reader.StartOffset = kafka.FirstOffset }
}

// WithHandlerAttempts sets how many times a failing message is handled
// before it is dropped.
func WithHandlerAttempts(n int) ConsumerOption {
	return func(s *consumerSettings) { s.retry.MaxAttempts = n }
}

type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	topic   string
	logger  *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	s := consumerSettings{
		reader: kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.LastOffset,
		},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Consumer{
		reader:  kafka.NewReader(s.reader),
		handler: handler,
		retry:   s.retry,
		topic:   topic,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "group", c.reader.Config().GroupID)
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("closing reader", "error", err)
		}
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process handles msg with retries. It reports false when ctx ended before
// the message was settled, in which case it must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	if id := header(msg, headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	log := logger.FromContext(ctx).With("topic", c.topic, "partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "handle-"+c.topic, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	log.Error("dropping message after failed attempts", "key", string(msg.Key), "error", err)
	return true
}

// Close is safe to call after Start has returned.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
