package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (f *fakePublisher) Publish(_ context.Context, event kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		_ = f.Publish(ctx, e)
	}
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestCollectorPublishesTrackedEvents(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 10)
	c.Start(context.Background())

	c.Track(QAEvent{Type: EventQuestion, DocumentID: "doc-1"})
	c.Track(IndexEvent{Type: EventIndexDoc, DocumentID: "doc-2"})
	c.Close()

	require.Equal(t, 2, pub.count())
	assert.Equal(t, "doc-1", pub.events[0].Key)
	assert.Equal(t, "doc-2", pub.events[1].Key)
}

func TestCollectorDrainsOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 10)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		c.Track(QAEvent{Type: EventQuestion, DocumentID: "doc"})
	}
	cancel()
	c.Start(ctx)
	<-c.done

	assert.Equal(t, 3, pub.count())
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&fakePublisher{}, 1)
	c.Track(QAEvent{})
	c.Track(QAEvent{})
	assert.Len(t, c.eventCh, 1)
	assert.Equal(t, int64(1), c.dropped.Load())
}

func TestCollectorBatchesQueuedEvents(t *testing.T) {
	pub := &batchCounter{}
	c := NewCollector(pub, 2*maxForward)
	for range maxForward + 1 {
		c.Track(QAEvent{DocumentID: "doc"})
	}
	c.Start(context.Background())
	c.Close()

	assert.Equal(t, []int{maxForward, 1}, pub.sizes)
}

type batchCounter struct {
	fakePublisher
	sizes []int
}

func (b *batchCounter) PublishBatch(ctx context.Context, events []kafka.Event) error {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(events))
	b.mu.Unlock()
	return b.fakePublisher.PublishBatch(ctx, events)
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	agg.RecordQuestion(QAEvent{DocumentID: "d1", Question: "What is BM25?", Matched: true, LatencyMs: 10})
	agg.RecordQuestion(QAEvent{DocumentID: "d1", Question: "what is  bm25?", Matched: true, LatencyMs: 20, CacheHit: true})
	agg.RecordQuestion(QAEvent{DocumentID: "d2", Question: "zebra", Matched: false, LatencyMs: 30})
	agg.RecordIndex(IndexEvent{DocumentID: "d1", Status: "indexed", ChunkCount: 4})
	agg.RecordIndex(IndexEvent{DocumentID: "d3", Status: "failed"})

	stats := agg.Stats()
	assert.Equal(t, int64(3), stats.TotalQuestions)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.UnmatchedCount)
	assert.Equal(t, int64(1), stats.TotalDocsIndexed)
	assert.Equal(t, int64(4), stats.TotalChunksIndexed)
	assert.Equal(t, int64(1), stats.FailedIndexes)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(20), stats.P50LatencyMs)
	assert.Equal(t, int64(30), stats.P99LatencyMs)

	require.NotEmpty(t, stats.TopQuestions)
	assert.Equal(t, TermCount{Key: "what is bm25?", Count: 2}, stats.TopQuestions[0])
	assert.Equal(t, []TermCount{{Key: "zebra", Count: 1}}, stats.UnmatchedQuestions)
	assert.Equal(t, TermCount{Key: "d1", Count: 2}, stats.TopDocuments[0])
}

func TestAggregatorLatencyWindowIsBounded(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < maxLatencySamples+10; i++ {
		agg.RecordQuestion(QAEvent{LatencyMs: int64(i)})
	}
	assert.Len(t, agg.latencies, maxLatencySamples)
	assert.Equal(t, int64(maxLatencySamples+10), agg.Stats().TotalQuestions)
}

func TestAggregatorRestore(t *testing.T) {
	agg := NewAggregator()
	agg.Restore(AggregatedStats{TotalQuestions: 7, TotalDocsIndexed: 2})
	agg.RecordQuestion(QAEvent{Matched: true})
	stats := agg.Stats()
	assert.Equal(t, int64(8), stats.TotalQuestions)
	assert.Equal(t, int64(2), stats.TotalDocsIndexed)
}

func TestHandleEventDispatchesByType(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)

	qa, err := json.Marshal(QAEvent{Type: EventQuestion, DocumentID: "d1", Question: "q", Matched: true})
	require.NoError(t, err)
	idx, err := json.Marshal(IndexEvent{Type: EventIndexDoc, DocumentID: "d1", Status: "indexed", ChunkCount: 2})
	require.NoError(t, err)

	require.NoError(t, handle(context.Background(), nil, qa))
	require.NoError(t, handle(context.Background(), nil, idx))
	require.NoError(t, handle(context.Background(), nil, []byte("not json")))
	require.NoError(t, handle(context.Background(), nil, []byte(`{"type":"other"}`)))

	stats := agg.Stats()
	assert.Equal(t, int64(1), stats.TotalQuestions)
	assert.Equal(t, int64(1), stats.TotalDocsIndexed)
}

type fakeHistory struct {
	snapshots []AggregatedStats
	err       error
	limit     int
}

func (f *fakeHistory) ListSnapshots(_ context.Context, limit int) ([]AggregatedStats, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func TestHandlerStatsAndSnapshots(t *testing.T) {
	agg := NewAggregator()
	agg.RecordQuestion(QAEvent{Question: "q", Matched: true})
	history := &fakeHistory{snapshots: []AggregatedStats{{TotalQuestions: 5, CapturedAt: time.Now()}}}
	h := NewHandler(agg, history)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalQuestions)

	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, history.limit)

	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlerSnapshotsWithoutHistory(t *testing.T) {
	h := NewHandler(NewAggregator(), nil)
	rec := httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
