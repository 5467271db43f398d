package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

type fakeProvider struct {
	snaps map[string]*indexer.Snapshot
	err   error
}

func (f *fakeProvider) Get(_ context.Context, docID string) (*indexer.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[docID]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound
	}
	return snap, nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingTracker) Track(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type mapBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapBackend) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *mapBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		DefaultTopN: 3,
		MaxResults:  2,
		K1:          1.2,
		B:           0.75,
		RankTimeout: time.Second,
	}
}

func newTestHandler(t *testing.T, withCache bool) (*Handler, *recordingTracker) {
	t.Helper()
	engine := indexer.NewEngine(nil, nil)
	chunks := []chunker.Chunk{
		chunker.New([]string{"the", "cat", "sat"}),
		chunker.New([]string{"the", "dog", "ran"}),
		chunker.New([]string{"a", "dog", "barked", "at", "the", "dog"}),
	}
	snap, err := engine.Publish("doc-1", chunks)
	require.NoError(t, err)

	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&mapBackend{data: map[string]string{}}, time.Minute, nil)
	}
	tracker := &recordingTracker{}
	r := retriever.New(ranker.NewScorer(ranker.DefaultParams()))
	provider := &fakeProvider{snaps: map[string]*indexer.Snapshot{"doc-1": snap}}
	return New(provider, r, qc, tracker, searchConfig(), nil), tracker
}

func postAsk(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/qa/ask", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Ask(rec, req)
	return rec
}

func TestAskReturnsRankedSpans(t *testing.T) {
	h, tracker := newTestHandler(t, false)

	rec := postAsk(h, `{"doc_id":"doc-1","question":"Where is the dog?","top_n":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.DocID)
	require.Len(t, resp.Spans, 2, "top_n is capped by MaxResults")
	assert.Equal(t, "a dog barked at the dog", resp.Spans[0].Text)
	assert.Equal(t, "the dog ran", resp.Spans[1].Text)
	assert.Greater(t, resp.Spans[0].Score, resp.Spans[1].Score)
	assert.Equal(t, "a dog barked at the dog\nthe dog ran", resp.Answer)

	require.Len(t, tracker.events, 1)
	event := tracker.events[0].(analytics.QAEvent)
	assert.True(t, event.Matched)
	assert.Equal(t, 2, event.Returned)
}

func TestAskValidation(t *testing.T) {
	h, _ := newTestHandler(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing doc", `{"question":"dog"}`},
		{"missing question", `{"doc_id":"doc-1","question":"  "}`},
		{"negative top_n", `{"doc_id":"doc-1","question":"dog","top_n":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, postAsk(h, tt.body).Code)
		})
	}
}

func TestAskZeroTopNIsEmpty(t *testing.T) {
	h, _ := newTestHandler(t, false)
	rec := postAsk(h, `{"doc_id":"doc-1","question":"dog","top_n":0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Spans)
	assert.Empty(t, resp.Answer)
}

func TestAskUnknownDocument(t *testing.T) {
	h, tracker := newTestHandler(t, false)
	rec := postAsk(h, `{"doc_id":"missing","question":"dog"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, tracker.events)
}

func TestAskEmptyCorpus(t *testing.T) {
	h, _ := newTestHandler(t, false)
	h.engine = &fakeProvider{err: apperrors.ErrEmptyCorpus}
	rec := postAsk(h, `{"doc_id":"doc-1","question":"dog"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// chunkSource stands in for the document store behind a real engine.
type chunkSource map[string]error

func (c chunkSource) LoadChunks(_ context.Context, docID string) ([]chunker.Chunk, error) {
	if err, ok := c[docID]; ok {
		return nil, err
	}
	return nil, apperrors.ErrDocumentNotFound
}

func TestAskStatusFollowsDocumentState(t *testing.T) {
	h, tracker := newTestHandler(t, false)
	h.engine = indexer.NewEngine(chunkSource{
		"queued": fmt.Errorf("%w: document queued is queued for indexing", apperrors.ErrIndexNotReady),
		"failed": nil,
	}, nil)

	tests := []struct {
		docID string
		want  int
	}{
		{"3f0c5a9e-8d55-4b0e-9a51-0e4d2f6b7a10", http.StatusNotFound},
		{"queued", http.StatusConflict},
		{"failed", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		rec := postAsk(h, `{"doc_id":"`+tt.docID+`","question":"dog"}`)
		assert.Equal(t, tt.want, rec.Code, tt.docID)
	}
	assert.Empty(t, tracker.events)
}

func TestSearchUnmatchedKeepsChunkOrder(t *testing.T) {
	h, tracker := newTestHandler(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?doc_id=doc-1&q=zebra&n=2", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, chunker.HashID("the cat sat"), resp.Results[0].ChunkID)
	assert.Equal(t, chunker.HashID("the dog ran"), resp.Results[1].ChunkID)
	for _, r := range resp.Results {
		assert.Zero(t, r.Score)
	}
	require.Len(t, tracker.events, 1)
	assert.False(t, tracker.events[0].(analytics.QAEvent).Matched)
}

func TestSearchRejectsBadParams(t *testing.T) {
	h, _ := newTestHandler(t, false)
	for _, target := range []string{"/api/v1/search?q=dog", "/api/v1/search?doc_id=doc-1&n=abc"} {
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestAskUsesCache(t *testing.T) {
	h, tracker := newTestHandler(t, true)

	first := postAsk(h, `{"doc_id":"doc-1","question":"dog"}`)
	second := postAsk(h, `{"doc_id":"doc-1","question":"DOG!"}`)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	require.Len(t, tracker.events, 2)
	assert.False(t, tracker.events[0].(analytics.QAEvent).CacheHit)
	assert.True(t, tracker.events[1].(analytics.QAEvent).CacheHit)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])
	assert.Equal(t, "50.0%", stats["hit_rate"])
	assert.Equal(t, "closed", stats["circuit"])
}

func TestCacheInvalidate(t *testing.T) {
	h, _ := newTestHandler(t, true)
	postAsk(h, `{"doc_id":"doc-1","question":"dog"}`)

	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate?doc_id=doc-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["keys_deleted"])
}

func TestCacheInvalidateWildcardDocID(t *testing.T) {
	h, tracker := newTestHandler(t, true)
	postAsk(h, `{"doc_id":"doc-1","question":"dog"}`)

	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate?doc_id=*", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys_deleted":0`)

	postAsk(h, `{"doc_id":"doc-1","question":"dog"}`)
	require.Len(t, tracker.events, 2)
	assert.True(t, tracker.events[1].(analytics.QAEvent).CacheHit)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	h, _ := newTestHandler(t, false)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
