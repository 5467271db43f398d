// Package cache stores ranked results in Redis. Keys are scoped per document
// and include the index fingerprint, so a rebuilt index never serves results
// computed against the previous chunk set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/resilience"
)

const keyPrefix = "qa:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache in front of backend. m may be nil. A circuit breaker
// stops Redis calls after repeated failures; while it is open every lookup
// is a miss and results are computed directly.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     15 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key identifies one ranking request.
type Key struct {
	DocumentID  string
	Fingerprint string
	Query       string
	N           int
}

// String returns the Redis key. Query tokens are sorted because BM25 sums
// per-term scores, so token order does not change the ranking; duplicates are
// kept because they do.
func (k Key) String() string {
	terms := tokenizer.Tokenize(k.Query)
	sort.Strings(terms)
	raw := fmt.Sprintf("%s|%s|n=%d", k.Fingerprint, strings.Join(terms, " "), k.N)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, k.DocumentID, hash[:16])
}

func (c *QueryCache) Get(ctx context.Context, key Key) ([]retriever.RankedResult, bool) {
	redisKey := key.String()
	var data string
	var found bool
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, found, err = c.backend.Lookup(ctx, redisKey)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", redisKey, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	if !found {
		c.recordMiss()
		return nil, false
	}
	var results []retriever.RankedResult
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", redisKey, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	c.logger.Debug("cache hit", "doc_id", key.DocumentID, "key", redisKey)
	return results, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, results []retriever.RankedResult) {
	redisKey := key.String()
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", redisKey, "error", err)
		return
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.backend.Set(ctx, redisKey, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", redisKey, "error", err)
	}
}

// GetOrCompute returns cached results for key or computes, stores, and
// returns them. Concurrent misses on the same key share one computation.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func(ctx context.Context) ([]retriever.RankedResult, error),
) ([]retriever.RankedResult, bool, error) {
	if results, ok := c.Get(ctx, key); ok {
		return results, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (any, error) {
		results, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]retriever.RankedResult), false, nil
}

// InvalidateDocument removes every cached result of one document. Glob
// metacharacters in docID match literally.
func (c *QueryCache) InvalidateDocument(ctx context.Context, docID string) (int64, error) {
	return c.flush(ctx, keyPrefix+globEscaper.Replace(docID)+":*")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Invalidate removes all cached results.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	return c.flush(ctx, keyPrefix+"*")
}

func (c *QueryCache) flush(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, pattern)
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache %s: %w", pattern, err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", deleted)
	return deleted, nil
}

// BreakerState reports whether Redis calls are currently being attempted.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
