package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/tracing"
)

// SnapshotProvider returns the published index of a document.
type SnapshotProvider interface {
	Get(ctx context.Context, docID string) (*indexer.Snapshot, error)
}

// Tracker receives analytics events; *analytics.Collector implements it.
type Tracker interface {
	Track(event any)
}

type AskRequest struct {
	DocID    string `json:"doc_id"`
	Question string `json:"question"`
	TopN     *int   `json:"top_n,omitempty"`
}

type Span struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

type AskResponse struct {
	DocID        string `json:"doc_id"`
	IndexVersion uint64 `json:"index_version"`
	Answer       string `json:"answer"`
	Spans        []Span `json:"spans"`
}

type SearchResponse struct {
	DocID        string                   `json:"doc_id"`
	IndexVersion uint64                   `json:"index_version"`
	Query        string                   `json:"query"`
	Results      []retriever.RankedResult `json:"results"`
}

type Handler struct {
	engine    SnapshotProvider
	retriever *retriever.Retriever
	cache     *cache.QueryCache
	tracker   Tracker
	cfg       config.SearchConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the QA handler. queryCache, tracker, and m may be nil.
func New(engine SnapshotProvider, r *retriever.Retriever, queryCache *cache.QueryCache, tracker Tracker, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:    engine,
		retriever: r,
		cache:     queryCache,
		tracker:   tracker,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "qa-handler"),
	}
}

// ranking is the outcome of ranking one query against one snapshot.
type ranking struct {
	snapshot *indexer.Snapshot
	results  []retriever.RankedResult
	cacheHit bool
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.DocID = strings.TrimSpace(req.DocID)
	if req.DocID == "" || strings.TrimSpace(req.Question) == "" {
		h.writeError(w, http.StatusBadRequest, "doc_id and question are required")
		return
	}
	n := h.cfg.DefaultTopN
	if req.TopN != nil {
		n = *req.TopN
	}
	if n < 0 {
		h.writeError(w, http.StatusBadRequest, "top_n must not be negative")
		return
	}

	ctx, span := tracing.StartSpan(r.Context(), "qa.ask", middleware.GetRequestID(r.Context()))
	span.SetAttr("doc_id", req.DocID)
	defer span.Finish()

	out, ok := h.rankAndTrack(ctx, w, req.DocID, req.Question, n)
	if !ok {
		return
	}
	spans := make([]Span, len(out.results))
	texts := make([]string, len(out.results))
	for i, res := range out.results {
		text := out.snapshot.Text(res.ChunkID)
		spans[i] = Span{ChunkID: res.ChunkID, Score: res.Score, Text: text}
		texts[i] = text
	}
	h.writeJSON(w, http.StatusOK, AskResponse{
		DocID:        req.DocID,
		IndexVersion: out.snapshot.Version,
		Answer:       strings.Join(texts, "\n"),
		Spans:        spans,
	})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docID := strings.TrimSpace(q.Get("doc_id"))
	if docID == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'doc_id' is required")
		return
	}
	n := h.cfg.DefaultTopN
	if raw := q.Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	ctx, span := tracing.StartSpan(r.Context(), "qa.search", middleware.GetRequestID(r.Context()))
	span.SetAttr("doc_id", docID)
	defer span.Finish()

	out, ok := h.rankAndTrack(ctx, w, docID, q.Get("q"), n)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{
		DocID:        docID,
		IndexVersion: out.snapshot.Version,
		Query:        q.Get("q"),
		Results:      out.results,
	})
}

// rankAndTrack ranks the query, records metrics and analytics, and writes the
// error response itself when ranking fails.
func (h *Handler) rankAndTrack(ctx context.Context, w http.ResponseWriter, docID, query string, n int) (*ranking, bool) {
	log := logger.FromContext(ctx)
	start := time.Now()
	if n > h.cfg.MaxResults {
		n = h.cfg.MaxResults
	}

	out, err := h.rank(ctx, docID, query, n)
	latency := time.Since(start)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Warn("ranking failed", "doc_id", docID, "error", err, "status_code", status)
		h.countQuery(resultTypeFor(err))
		h.writeError(w, status, apperrors.PublicMessage(err, "ranking failed"))
		return nil, false
	}

	var topScore float64
	if len(out.results) > 0 {
		topScore = out.results[0].Score
	}
	matched := topScore > 0
	resultType := "answered"
	if !matched {
		resultType = "unmatched"
	}
	h.countQuery(resultType)
	if h.metrics != nil {
		cacheStatus := "miss"
		if out.cacheHit {
			cacheStatus = "hit"
		}
		h.metrics.RankLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		h.metrics.ResultsReturned.Observe(float64(len(out.results)))
	}

	log.Info("query ranked",
		"doc_id", docID,
		"index_version", out.snapshot.Version,
		"returned", len(out.results),
		"top_score", topScore,
		"cache_hit", out.cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.tracker != nil {
		h.tracker.Track(analytics.QAEvent{
			Type:       analytics.EventQuestion,
			DocumentID: docID,
			Question:   query,
			Terms:      tokenizer.Tokenize(query),
			Returned:   len(out.results),
			TopScore:   topScore,
			Matched:    matched,
			LatencyMs:  latency.Milliseconds(),
			CacheHit:   out.cacheHit,
			Timestamp:  time.Now().UTC(),
			RequestID:  middleware.GetRequestID(ctx),
		})
	}
	return out, true
}

func (h *Handler) rank(ctx context.Context, docID, query string, n int) (*ranking, error) {
	engineCtx, engineSpan := tracing.StartChildSpan(ctx, "engine.get")
	snap, err := h.engine.Get(engineCtx, docID)
	engineSpan.RecordError(err)
	engineSpan.End()
	if err != nil {
		return nil, err
	}

	compute := func(ctx context.Context) ([]retriever.RankedResult, error) {
		return resilience.WithTimeoutValue(ctx, h.cfg.RankTimeout, "rank", func(ctx context.Context) ([]retriever.RankedResult, error) {
			return h.retriever.TopNContext(ctx, snap.Index, query, n)
		})
	}

	rankCtx, rankSpan := tracing.StartChildSpan(ctx, "retriever.top_n")
	defer rankSpan.End()
	out := &ranking{snapshot: snap}
	if h.cache == nil {
		out.results, err = compute(rankCtx)
	} else {
		key := cache.Key{DocumentID: docID, Fingerprint: snap.Fingerprint, Query: query, N: n}
		out.results, out.cacheHit, err = h.cache.GetOrCompute(rankCtx, key, compute)
	}
	if err != nil {
		rankSpan.RecordError(err)
		return nil, err
	}
	rankSpan.SetAttr("returned", len(out.results))
	rankSpan.SetAttr("cache_hit", out.cacheHit)
	return out, nil
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
		"circuit":  h.cache.BreakerState().String(),
	})
}

// CacheInvalidate drops cached results of one document (?doc_id=) or of all
// documents.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	var (
		deleted int64
		err     error
	)
	if docID := r.URL.Query().Get("doc_id"); docID != "" {
		deleted, err = h.cache.InvalidateDocument(r.Context(), docID)
	} else {
		deleted, err = h.cache.Invalidate(r.Context())
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.QAQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func resultTypeFor(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDocumentNotFound), errors.Is(err, apperrors.ErrEmptyCorpus):
		return "not_found"
	case errors.Is(err, apperrors.ErrIndexNotReady):
		return "building"
	default:
		return "error"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
