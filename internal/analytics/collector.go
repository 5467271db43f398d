package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
)

// maxForward bounds how many queued events one Kafka write carries.
const maxForward = 64

// Collector forwards analytics events to Kafka from one background
// goroutine so the query path never waits on the broker. Events queued
// together are written together. Track drops events when the queue is full.
type Collector struct {
	publisher kafka.Publisher
	eventCh   chan any
	dropped   atomic.Int64
	logger    *slog.Logger
	done      chan struct{}
}

func NewCollector(publisher kafka.Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan any, bufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

// Start forwards events until ctx is cancelled or Close is called. Events
// still queued at that point are flushed with a short deadline.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.forward(ctx, c.collect(event))
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				for batch := c.collect(nil); len(batch) > 0; batch = c.collect(nil) {
					c.forward(flushCtx, batch)
				}
				return
			}
		}
	}()
}

func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("analytics events dropped, buffer full", "dropped_total", n)
		}
	}
}

// Close stops accepting events and waits for queued ones to be forwarded.
// Start must have been called.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

// collect gathers first plus whatever else is queued, up to maxForward.
// A nil first starts an empty batch.
func (c *Collector) collect(first any) []kafka.Event {
	batch := make([]kafka.Event, 0, maxForward)
	if first != nil {
		batch = append(batch, kafka.Event{Key: PartitionKey(first), Value: first})
	}
	for len(batch) < maxForward {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: PartitionKey(event), Value: event})
		default:
			return batch
		}
	}
	return batch
}

func (c *Collector) forward(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics events", "count", len(batch), "error", err)
	}
}

// PartitionKey partitions events by document so one document's events stay
// ordered.
func PartitionKey(event any) string {
	switch e := event.(type) {
	case QAEvent:
		return e.DocumentID
	case IndexEvent:
		return e.DocumentID
	default:
		return "analytics"
	}
}
