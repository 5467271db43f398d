package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
)

// maxLatencySamples bounds the window used for latency percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalQuestions     int64       `json:"total_questions"`
	TotalDocsIndexed   int64       `json:"total_docs_indexed"`
	TotalChunksIndexed int64       `json:"total_chunks_indexed"`
	FailedIndexes      int64       `json:"failed_indexes"`
	CacheHits          int64       `json:"cache_hits"`
	CacheMisses        int64       `json:"cache_misses"`
	UnmatchedCount     int64       `json:"unmatched_count"`
	AvgLatencyMs       float64     `json:"avg_latency_ms"`
	P50LatencyMs       int64       `json:"p50_latency_ms"`
	P95LatencyMs       int64       `json:"p95_latency_ms"`
	P99LatencyMs       int64       `json:"p99_latency_ms"`
	TopQuestions       []TermCount `json:"top_questions"`
	UnmatchedQuestions []TermCount `json:"unmatched_questions"`
	TopDocuments       []TermCount `json:"top_documents"`
	QuestionsPerMinute float64     `json:"questions_per_minute"`
	CapturedAt         time.Time   `json:"captured_at"`
}

// TermCount is a key with its number of occurrences.
type TermCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type Aggregator struct {
	mu                 sync.RWMutex
	totalQuestions     atomic.Int64
	totalDocsIndexed   atomic.Int64
	totalChunksIndexed atomic.Int64
	failedIndexes      atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	unmatched          atomic.Int64
	latencies          []int64
	latencyNext        int
	questionCounts     map[string]int64
	unmatchedQuestions map[string]int64
	documentCounts     map[string]int64
	startTime          time.Time
	logger             *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:          make([]int64, 0, 1024),
		questionCounts:     make(map[string]int64),
		unmatchedQuestions: make(map[string]int64),
		documentCounts:     make(map[string]int64),
		startTime:          time.Now(),
		logger:             slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes analytics events from Kafka. Undecodable messages are
// logged and skipped so they are committed rather than redelivered forever.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch env.Type {
		case EventQuestion:
			event, err := kafka.DecodeJSON[QAEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode qa event", "error", err)
				return nil
			}
			agg.RecordQuestion(event)
		case EventIndexDoc:
			event, err := kafka.DecodeJSON[IndexEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode index event", "error", err)
				return nil
			}
			agg.RecordIndex(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", env.Type)
		}
		return nil
	}
}

func (a *Aggregator) RecordQuestion(event QAEvent) {
	a.totalQuestions.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if !event.Matched {
		a.unmatched.Add(1)
	}

	question := normalizeQuestion(event.Question)
	a.mu.Lock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.latencyNext] = event.LatencyMs
		a.latencyNext = (a.latencyNext + 1) % maxLatencySamples
	}
	a.questionCounts[question]++
	a.documentCounts[event.DocumentID]++
	if !event.Matched {
		a.unmatchedQuestions[question]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	if event.Status == "failed" {
		a.failedIndexes.Add(1)
		return
	}
	a.totalDocsIndexed.Add(1)
	a.totalChunksIndexed.Add(int64(event.ChunkCount))
}

// Restore carries the totals of a persisted snapshot into a fresh
// aggregator. Per-question counts and latencies start empty.
func (a *Aggregator) Restore(prev AggregatedStats) {
	a.totalQuestions.Add(prev.TotalQuestions)
	a.totalDocsIndexed.Add(prev.TotalDocsIndexed)
	a.totalChunksIndexed.Add(prev.TotalChunksIndexed)
	a.failedIndexes.Add(prev.FailedIndexes)
	a.cacheHits.Add(prev.CacheHits)
	a.cacheMisses.Add(prev.CacheMisses)
	a.unmatched.Add(prev.UnmatchedCount)
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQuestions:     a.totalQuestions.Load(),
		TotalDocsIndexed:   a.totalDocsIndexed.Load(),
		TotalChunksIndexed: a.totalChunksIndexed.Load(),
		FailedIndexes:      a.failedIndexes.Load(),
		CacheHits:          a.cacheHits.Load(),
		CacheMisses:        a.cacheMisses.Load(),
		UnmatchedCount:     a.unmatched.Load(),
		CapturedAt:         time.Now().UTC(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQuestions = topN(a.questionCounts, 10)
	stats.UnmatchedQuestions = topN(a.unmatchedQuestions, 10)
	stats.TopDocuments = topN(a.documentCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QuestionsPerMinute = float64(stats.TotalQuestions) / elapsed
	}
	return stats
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent keys; equal counts are ordered by key.
func topN(counts map[string]int64, n int) []TermCount {
	result := make([]TermCount, 0, len(counts))
	for key, count := range counts {
		result = append(result, TermCount{Key: key, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
