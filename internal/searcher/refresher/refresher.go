// Package refresher keeps a searcher's published indexes in step with the
// indexer. Each IndexCompleteEvent rebuilds the document's snapshot and drops
// its cached results.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
)

// Engine rebuilds and drops per-document snapshots; *indexer.Engine
// implements it.
type Engine interface {
	Refresh(ctx context.Context, docID string) (*indexer.Snapshot, error)
	Evict(docID string) bool
}

// Invalidator drops cached results of one document; *cache.QueryCache
// implements it.
type Invalidator interface {
	InvalidateDocument(ctx context.Context, docID string) (int64, error)
}

type Refresher struct {
	engine Engine
	cache  Invalidator
	logger *slog.Logger
}

// New creates a Refresher. cache may be nil when result caching is off.
func New(engine Engine, cache Invalidator) *Refresher {
	return &Refresher{
		engine: engine,
		cache:  cache,
		logger: slog.Default().With("component", "index-refresher"),
	}
}

func (r *Refresher) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IndexCompleteEvent](value)
		if err != nil {
			r.logger.Error("failed to decode index-complete event", "error", err, "key", string(key))
			return nil
		}
		return r.Handle(ctx, event)
	}
}

// Handle republishes the document's snapshot. A document whose chunks are
// gone is evicted instead. Cached results are dropped in both cases because
// their fingerprint no longer matches.
func (r *Refresher) Handle(ctx context.Context, event ingestion.IndexCompleteEvent) error {
	log := r.logger.With("doc_id", event.DocumentID)
	snap, err := r.engine.Refresh(ctx, event.DocumentID)
	switch {
	case errors.Is(err, apperrors.ErrEmptyCorpus),
		errors.Is(err, apperrors.ErrDocumentNotFound),
		errors.Is(err, apperrors.ErrIndexNotReady):
		r.engine.Evict(event.DocumentID)
		log.Warn("document has no indexable chunks, snapshot evicted", "error", err)
	case err != nil:
		return fmt.Errorf("refreshing index of %s: %w", event.DocumentID, err)
	default:
		log.Info("index refreshed",
			"version", snap.Version,
			"fingerprint", snap.Fingerprint,
			"chunk_count", snap.Index.ChunkCount(),
		)
	}

	if r.cache != nil {
		if _, err := r.cache.InvalidateDocument(ctx, event.DocumentID); err != nil {
			// stale keys carry the old fingerprint and expire with their TTL
			log.Warn("cache invalidation failed", "error", err)
		}
	}
	return nil
}
