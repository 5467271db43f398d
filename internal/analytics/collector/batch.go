// Package collector batches analytics events for producers with bursty
// volume, such as the indexer finishing a backlog of documents.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
)

// BatchCollector hands events to a single loop that writes them to Kafka in
// batches of batchSize or every flushInterval. A failed batch stays pending
// and is retried with the next flush; pending events beyond three batches
// are dropped oldest first.
type BatchCollector struct {
	publisher     kafka.Publisher
	events        chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	maxPending    int

	// pending is owned by the run loop.
	pending []kafka.Event

	published atomic.Int64
	dropped   atomic.Int64
	logger    *slog.Logger
	done      chan struct{}
}

func NewBatchCollector(publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		events:        make(chan kafka.Event, 4*batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxPending:    3 * batchSize,
		logger:        slog.Default().With("component", "batch-collector"),
		done:          make(chan struct{}),
	}
}

func (bc *BatchCollector) Start(ctx context.Context) {
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
	go bc.run(ctx)
}

// Track never blocks. Events are dropped when the loop falls behind.
func (bc *BatchCollector) Track(event any) {
	select {
	case bc.events <- kafka.Event{Key: analytics.PartitionKey(event), Value: event}:
	default:
		bc.dropped.Add(1)
	}
}

// Close waits for the loop to finish its final flush. The context passed to
// Start must be cancelled first.
func (bc *BatchCollector) Close() {
	<-bc.done
}

// Stats returns how many events reached Kafka and how many were dropped.
func (bc *BatchCollector) Stats() (published, dropped int64) {
	return bc.published.Load(), bc.dropped.Load()
}

func (bc *BatchCollector) run(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-bc.events:
			bc.pending = append(bc.pending, ev)
			if len(bc.pending) >= bc.batchSize {
				bc.flush(ctx)
			}
		case <-ticker.C:
			bc.flush(ctx)
		case <-ctx.Done():
			bc.drain()
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			bc.flush(flushCtx)
			cancel()
			published, dropped := bc.Stats()
			bc.logger.Info("batch collector stopped", "published", published, "dropped", dropped)
			return
		}
	}
}

func (bc *BatchCollector) drain() {
	for {
		select {
		case ev := <-bc.events:
			bc.pending = append(bc.pending, ev)
		default:
			return
		}
	}
}

func (bc *BatchCollector) flush(ctx context.Context) {
	if len(bc.pending) == 0 {
		return
	}
	if err := bc.publisher.PublishBatch(ctx, bc.pending); err != nil {
		bc.logger.Error("batch flush failed", "pending", len(bc.pending), "error", err)
		if over := len(bc.pending) - bc.maxPending; over > 0 {
			bc.pending = bc.pending[over:]
			bc.dropped.Add(int64(over))
			bc.logger.Warn("pending events dropped", "dropped", over)
		}
		return
	}
	bc.published.Add(int64(len(bc.pending)))
	bc.logger.Debug("batch flushed", "events", len(bc.pending))
	bc.pending = make([]kafka.Event, 0, bc.batchSize)
}
