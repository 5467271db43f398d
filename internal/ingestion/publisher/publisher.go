// Package publisher persists documents to PostgreSQL and publishes ingest
// events to Kafka for downstream chunking and indexing. Writes are idempotent
// per idempotency key.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/resilience"
)

// DocumentStore is the persistence the publisher needs; *store.Store
// implements it.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) (string, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*store.Document, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]store.Document, error)
	UpdateStatus(ctx context.Context, docID string, status store.Status) error
}

type Publisher struct {
	store    DocumentStore
	producer kafka.Publisher
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

func New(docs DocumentStore, producer kafka.Publisher) *Publisher {
	return &Publisher{
		store:    docs,
		producer: producer,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "publisher"),
	}
}

// Ingest persists the document as PENDING and publishes an IngestEvent. A
// repeated idempotency key returns the document created first. If the event
// cannot be published the document stays PENDING and the error wraps
// apperrors.ErrUnavailable; Reindex republishes it.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	if req.IdempotencyKey != "" {
		existing, err := p.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			p.logger.Info("duplicate ingestion detected",
				"idempotency_key", req.IdempotencyKey,
				"existing_id", existing.ID,
			)
			return responseFor(existing), nil
		}
	}

	sum := sha256.Sum256([]byte(req.Text))
	doc := &store.Document{
		FileName:       req.FileName,
		ContentHash:    hex.EncodeToString(sum[:]),
		ContentSize:    len(req.Text),
		Body:           req.Text,
		TopTerms:       ingestion.TopTerms(req.Text, ingestion.TopTermsLimit),
		Status:         store.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	id, err := p.store.CreateDocument(ctx, doc)
	if errors.Is(err, apperrors.ErrIdempotencyConflict) {
		// lost a race with a concurrent request using the same key
		existing, findErr := p.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if findErr == nil && existing != nil {
			return responseFor(existing), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	doc.ID = id

	if err := p.publish(ctx, doc); err != nil {
		p.logger.Error("failed to publish ingest event, document left PENDING",
			"doc_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("queueing document %s for indexing: %w", id, err)
	}
	return responseFor(doc), nil
}

func (p *Publisher) Get(ctx context.Context, id string) (*store.Document, error) {
	return p.store.GetDocument(ctx, id)
}

func (p *Publisher) List(ctx context.Context, limit, offset int) ([]store.Document, error) {
	return p.store.ListDocuments(ctx, limit, offset)
}

// Reindex resets the document to PENDING and asks the indexer to chunk its
// stored text again.
func (p *Publisher) Reindex(ctx context.Context, id string) (*ingestion.IndexStatusResponse, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateStatus(ctx, id, store.StatusPending); err != nil {
		return nil, err
	}
	if err := p.publish(ctx, doc); err != nil {
		return nil, fmt.Errorf("republishing document %s: %w", id, err)
	}
	p.logger.Info("reindex requested", "doc_id", id)
	return &ingestion.IndexStatusResponse{
		DocumentID: id,
		Status:     ingestion.IndexBuilding,
		ChunkCount: doc.ChunkCount,
	}, nil
}

func (p *Publisher) IndexStatus(ctx context.Context, id string) (*ingestion.IndexStatusResponse, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ingestion.IndexStatusResponse{
		DocumentID: doc.ID,
		Status:     ingestion.IndexStatusFor(doc.Status),
		ChunkCount: doc.ChunkCount,
		IndexedAt:  doc.IndexedAt,
	}, nil
}

func (p *Publisher) publish(ctx context.Context, doc *store.Document) error {
	event := kafka.Event{
		Key: doc.ID,
		Value: ingestion.IngestEvent{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			IngestedAt: time.Now().UTC(),
		},
	}
	err := resilience.Retry(ctx, "publish-ingest-event", p.retry, func() error {
		return p.producer.Publish(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	return nil
}

func responseFor(doc *store.Document) *ingestion.IngestResponse {
	return &ingestion.IngestResponse{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		Status:     string(doc.Status),
		TopTerms:   doc.TopTerms,
	}
}
