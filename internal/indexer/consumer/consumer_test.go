package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeStore struct {
	mu          sync.Mutex
	bodies      map[string]string
	chunks      map[string][]chunker.Chunk
	status      map[string]store.Status
	replaceErr  error
	failures    int
	getErr      error
	getFailures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bodies: map[string]string{},
		chunks: map[string][]chunker.Chunk{},
		status: map[string]store.Status{},
	}
}

// add stores a PENDING document the way the ingestion service does.
func (f *fakeStore) add(docID, body string) ingestion.IngestEvent {
	f.bodies[docID] = body
	f.status[docID] = store.StatusPending
	return ingestion.IngestEvent{DocumentID: docID, FileName: docID + ".txt"}
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFailures > 0 {
		f.getFailures--
		return nil, errors.New("connection refused")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.bodies[id]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound
	}
	return &store.Document{ID: id, FileName: id + ".txt", Body: body, Status: f.status[id]}, nil
}

func (f *fakeStore) ReplaceChunks(_ context.Context, docID string, chunks []chunker.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.chunks[docID] = chunks
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, docID string, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[docID] = status
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (f *fakePublisher) Publish(_ context.Context, e kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		_ = f.Publish(ctx, e)
	}
	return nil
}

type sliceTracker struct {
	events []any
}

func (s *sliceTracker) Track(event any) { s.events = append(s.events, event) }

func newIndexer(st *fakeStore, pub *fakePublisher, tr Tracker, m *metrics.Metrics) *Indexer {
	ix := New(st, pub, tr, config.IndexerConfig{ChunkSize: 4, ChunkOverlap: 1}, m)
	ix.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return ix
}

func TestHandleIndexesDocument(t *testing.T) {
	st, pub, tr := newFakeStore(), &fakePublisher{}, &sliceTracker{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ix := newIndexer(st, pub, tr, m)

	err := ix.Handle(context.Background(), st.add("doc-1", "one two three four five six seven"))
	require.NoError(t, err)

	// windows [0,4) [3,7)
	require.Len(t, st.chunks["doc-1"], 2)
	assert.Equal(t, "one two three four", st.chunks["doc-1"][0].Text)
	assert.Equal(t, "four five six seven", st.chunks["doc-1"][1].Text)
	assert.Equal(t, store.StatusIndexed, st.status["doc-1"])

	require.Len(t, pub.events, 1)
	done := pub.events[0].Value.(ingestion.IndexCompleteEvent)
	assert.Equal(t, 2, done.ChunkCount)
	assert.Equal(t, 8, done.TokenCount)

	require.Len(t, tr.events, 1)
	indexed := tr.events[0].(analytics.IndexEvent)
	assert.Equal(t, "indexed", indexed.Status)
	assert.Equal(t, len("one two three four five six seven"), indexed.SizeBytes)
}

func TestHandleIndexesDocumentLargerThanKafkaMessage(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	ix := New(st, pub, nil, config.IndexerConfig{ChunkSize: 500, ChunkOverlap: 50}, nil)
	body := strings.Repeat("ribosome ", (2<<20)/len("ribosome "))
	require.Greater(t, len(body), 1<<20)
	event := st.add("doc-big", body)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Less(t, len(payload), 512)

	require.NoError(t, ix.HandleMessage()(context.Background(), []byte("doc-big"), payload))
	assert.Equal(t, store.StatusIndexed, st.status["doc-big"])
	tokens := len(body) / len("ribosome ")
	// step 450: windows start at 0, 450, ... while tokens remain
	assert.Len(t, st.chunks["doc-big"], (tokens-50+449)/450)
}

func TestHandleRetriesTransientStoreErrors(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	st.failures = 2
	st.getFailures = 2
	ix := newIndexer(st, pub, nil, nil)

	require.NoError(t, ix.Handle(context.Background(), st.add("doc-1", "a b c")))
	assert.Len(t, st.chunks["doc-1"], 1)
	assert.Equal(t, store.StatusIndexed, st.status["doc-1"])
}

func TestHandleSettlesWhenStoreKeepsFailing(t *testing.T) {
	st, pub, tr := newFakeStore(), &fakePublisher{}, &sliceTracker{}
	st.replaceErr = errors.New("disk full")
	ix := newIndexer(st, pub, tr, nil)

	err := ix.Handle(context.Background(), st.add("doc-1", "a b c"))
	require.NoError(t, err, "the event is settled so the consumer does not redeliver it")
	assert.Equal(t, store.StatusFailed, st.status["doc-1"])
	assert.Empty(t, pub.events)
	require.Len(t, tr.events, 1)
	assert.Equal(t, "failed", tr.events[0].(analytics.IndexEvent).Status)
}

func TestHandleLeavesPendingWhenDocumentUnreadable(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	st.getErr = errors.New("too many connections")
	ix := newIndexer(st, pub, nil, nil)

	err := ix.Handle(context.Background(), st.add("doc-1", "a b c"))
	require.Error(t, err)
	assert.Equal(t, store.StatusPending, st.status["doc-1"])
	assert.Empty(t, st.chunks)
}

func TestHandleEmptyTextFails(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	ix := newIndexer(st, pub, nil, nil)

	require.NoError(t, ix.Handle(context.Background(), st.add("doc-1", "?!  ...")))
	assert.Equal(t, store.StatusFailed, st.status["doc-1"])
	assert.Empty(t, pub.events)
}

func TestHandleInvalidChunkConfigFails(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	ix := New(st, pub, nil, config.IndexerConfig{ChunkSize: 2, ChunkOverlap: 2}, nil)

	require.NoError(t, ix.Handle(context.Background(), st.add("doc-1", "a b c")))
	assert.Equal(t, store.StatusFailed, st.status["doc-1"])
}

func TestHandleVanishedDocument(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	ix := newIndexer(st, pub, nil, nil)

	require.NoError(t, ix.Handle(context.Background(), ingestion.IngestEvent{DocumentID: "gone"}))
	assert.Empty(t, st.status)

	st.replaceErr = apperrors.ErrDocumentNotFound
	require.NoError(t, ix.Handle(context.Background(), st.add("doc-1", "a b c")))
	assert.Equal(t, store.StatusPending, st.status["doc-1"])
}

func TestHandleMessageDecodes(t *testing.T) {
	st, pub := newFakeStore(), &fakePublisher{}
	handle := newIndexer(st, pub, nil, nil).HandleMessage()

	require.NoError(t, handle(context.Background(), nil, []byte("garbage")))
	assert.Empty(t, st.chunks)

	payload, err := json.Marshal(st.add("doc-2", "hello there"))
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte("doc-2"), payload))
	assert.Equal(t, store.StatusIndexed, st.status["doc-2"])
}
