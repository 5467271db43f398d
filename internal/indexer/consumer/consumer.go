// Package consumer reads ingest events from Kafka, loads each document's
// text from the store, splits it into chunks, stores them, and announces the
// result on the index-complete topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/resilience"
)

// ChunkStore is the persistence the indexer needs; *store.Store implements it.
type ChunkStore interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ReplaceChunks(ctx context.Context, docID string, chunks []chunker.Chunk) error
	UpdateStatus(ctx context.Context, docID string, status store.Status) error
}

// Tracker receives analytics events.
type Tracker interface {
	Track(event any)
}

type Indexer struct {
	store     ChunkStore
	publisher kafka.Publisher
	tracker   Tracker
	cfg       config.IndexerConfig
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an Indexer. tracker and m may be nil.
func New(chunks ChunkStore, publisher kafka.Publisher, tracker Tracker, cfg config.IndexerConfig, m *metrics.Metrics) *Indexer {
	ix := &Indexer{
		store:     chunks,
		publisher: publisher,
		tracker:   tracker,
		cfg:       cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "index-consumer"),
	}
	if m != nil {
		ix.retry.OnRetry = func(int, error, time.Duration) {
			m.RetriesTotal.WithLabelValues("indexer").Inc()
		}
	}
	return ix
}

// HandleMessage adapts Handle to a Kafka MessageHandler. Undecodable
// messages are dropped so they do not block the partition.
func (ix *Indexer) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
		if err != nil {
			ix.logger.Error("failed to decode ingest event", "error", err, "key", string(key))
			return nil
		}
		return ix.Handle(ctx, event)
	}
}

// Handle chunks one document and replaces its stored chunks. Documents that
// can never be indexed, or whose chunks cannot be stored within the retry
// budget, are marked FAILED and the event is settled; Reindex resubmits them.
// Only a failure to read the document is returned, leaving it PENDING so the
// message is redelivered.
func (ix *Indexer) Handle(ctx context.Context, event ingestion.IngestEvent) error {
	start := time.Now()
	log := ix.logger.With("doc_id", event.DocumentID)

	doc, err := resilience.RetryValue(ctx, "load-document", ix.retry, func() (*store.Document, error) {
		doc, err := ix.store.GetDocument(ctx, event.DocumentID)
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			return nil, resilience.Permanent(err)
		}
		return doc, err
	})
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		log.Warn("document vanished before indexing", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", event.DocumentID, err)
	}
	size := len(doc.Body)
	log.Debug("processing ingest event", "file_name", doc.FileName, "size_bytes", size)

	chunks, err := chunker.Split(doc.Body, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	if err == nil && len(chunks) == 0 {
		err = fmt.Errorf("%w: document %s has no tokens", apperrors.ErrEmptyCorpus, event.DocumentID)
	}
	if err != nil {
		log.Error("document cannot be indexed", "error", err)
		ix.markFailed(ctx, event.DocumentID, size, start)
		return nil
	}

	err = resilience.Retry(ctx, "replace-chunks", ix.retry, func() error {
		err := ix.store.ReplaceChunks(ctx, event.DocumentID, chunks)
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			return resilience.Permanent(err)
		}
		return err
	})
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		log.Warn("document vanished before indexing", "error", err)
		return nil
	}
	if ctx.Err() != nil {
		// shutting down; the uncommitted event is redelivered
		return ctx.Err()
	}
	if err != nil {
		log.Error("storing chunks failed, document marked failed", "error", err)
		ix.markFailed(ctx, event.DocumentID, size, start)
		return nil
	}
	if err := ix.store.UpdateStatus(ctx, event.DocumentID, store.StatusIndexed); err != nil {
		return fmt.Errorf("marking %s indexed: %w", event.DocumentID, err)
	}

	tokens := 0
	for _, c := range chunks {
		tokens += c.Len()
	}
	complete := kafka.Event{
		Key: event.DocumentID,
		Value: ingestion.IndexCompleteEvent{
			DocumentID: event.DocumentID,
			ChunkCount: len(chunks),
			TokenCount: tokens,
			IndexedAt:  time.Now().UTC(),
		},
	}
	err = resilience.Retry(ctx, "publish-index-complete", ix.retry, func() error {
		return ix.publisher.Publish(ctx, complete)
	})
	if err != nil {
		// searchers still pick up the new chunks on their next cold load
		log.Error("failed to announce index completion", "error", err)
	}

	elapsed := time.Since(start)
	if ix.metrics != nil {
		ix.metrics.DocsIndexedTotal.Inc()
		ix.metrics.ChunksIndexedTotal.Add(float64(len(chunks)))
	}
	ix.track(analytics.IndexEvent{
		Type:       analytics.EventIndexDoc,
		DocumentID: event.DocumentID,
		Status:     "indexed",
		ChunkCount: len(chunks),
		TokenCount: tokens,
		SizeBytes:  size,
		LatencyMs:  elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	log.Info("document indexed",
		"chunk_count", len(chunks),
		"token_count", tokens,
		"latency_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (ix *Indexer) markFailed(ctx context.Context, docID string, size int, start time.Time) {
	if err := ix.store.UpdateStatus(ctx, docID, store.StatusFailed); err != nil {
		ix.logger.Error("failed to update document status",
			"doc_id", docID,
			"status", store.StatusFailed,
			"error", err,
		)
	}
	ix.track(analytics.IndexEvent{
		Type:       analytics.EventIndexDoc,
		DocumentID: docID,
		Status:     "failed",
		SizeBytes:  size,
		LatencyMs:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
}

func (ix *Indexer) track(event analytics.IndexEvent) {
	if ix.tracker != nil {
		ix.tracker.Track(event)
	}
}
