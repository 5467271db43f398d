// Package indexer holds the per-document index engine. Each document's chunks
// are built into an immutable index.Index and published as a versioned
// Snapshot; readers take a snapshot and rank against it without locks while
// rebuilds publish replacements.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
)

// ChunkSource loads a document's chunks in window order.
type ChunkSource interface {
	LoadChunks(ctx context.Context, docID string) ([]chunker.Chunk, error)
}

// Snapshot is one published index of a document. It is never modified after
// publication.
type Snapshot struct {
	DocumentID string
	// Version orders snapshots of one document within this process.
	Version uint64
	// Fingerprint identifies the chunk set and is stable across processes.
	Fingerprint string
	Index       *index.Index
	BuiltAt     time.Time
	texts       map[string]string
}

// Text returns the stored text of a chunk in this snapshot.
func (s *Snapshot) Text(chunkID string) string {
	return s.texts[chunkID]
}

type Engine struct {
	source    ChunkSource
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	group     singleflight.Group
	versions  atomic.Uint64
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine creates an engine that loads chunks from source on demand. m may
// be nil.
func NewEngine(source ChunkSource, m *metrics.Metrics) *Engine {
	return &Engine{
		source:    source,
		snapshots: make(map[string]*Snapshot),
		metrics:   m,
		logger:    slog.Default().With("component", "index-engine"),
	}
}

// Get returns the published snapshot for docID, loading and building it on
// first use. Concurrent first requests for the same document share one load.
func (e *Engine) Get(ctx context.Context, docID string) (*Snapshot, error) {
	if snap := e.lookup(docID); snap != nil {
		return snap, nil
	}
	return e.load(ctx, "get:"+docID, docID)
}

// Refresh rebuilds docID from the chunk source and publishes the result,
// replacing any previous snapshot.
func (e *Engine) Refresh(ctx context.Context, docID string) (*Snapshot, error) {
	return e.load(ctx, "refresh:"+docID, docID)
}

// Publish builds a snapshot from chunks directly, bypassing the chunk source.
func (e *Engine) Publish(docID string, chunks []chunker.Chunk) (*Snapshot, error) {
	return e.build(docID, e.versions.Add(1), chunks)
}

// Evict drops the published snapshot of docID. Readers holding it keep a
// valid reference.
func (e *Engine) Evict(docID string) bool {
	e.mu.Lock()
	_, ok := e.snapshots[docID]
	delete(e.snapshots, docID)
	count := len(e.snapshots)
	e.mu.Unlock()
	if ok {
		e.setPublished(count)
		e.logger.Info("index evicted", "doc_id", docID)
	}
	return ok
}

func (e *Engine) DocumentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.snapshots)
}

func (e *Engine) lookup(docID string) *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots[docID]
}

// load runs one shared load per key. The shared work is detached from the
// caller's cancellation so one caller giving up does not fail the others;
// each caller still stops waiting when its own ctx ends.
func (e *Engine) load(ctx context.Context, key, docID string) (*Snapshot, error) {
	ch := e.group.DoChan(key, func() (any, error) {
		version := e.versions.Add(1)
		chunks, err := e.source.LoadChunks(context.WithoutCancel(ctx), docID)
		if err != nil {
			e.countBuild("error")
			return nil, fmt.Errorf("loading chunks for %s: %w", docID, err)
		}
		return e.build(docID, version, chunks)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// build indexes chunks and publishes the snapshot unless a snapshot with a
// newer version is already published. The returned snapshot is whichever one
// is current afterwards.
func (e *Engine) build(docID string, version uint64, chunks []chunker.Chunk) (*Snapshot, error) {
	start := time.Now()
	idx, err := index.Build(chunks)
	if err != nil {
		e.countBuild("error")
		return nil, fmt.Errorf("building index for %s: %w", docID, err)
	}
	texts := make(map[string]string, len(chunks))
	for _, c := range chunks {
		texts[c.ID] = c.Text
	}
	snap := &Snapshot{
		DocumentID:  docID,
		Version:     version,
		Fingerprint: fingerprint(idx),
		Index:       idx,
		BuiltAt:     time.Now().UTC(),
		texts:       texts,
	}

	e.mu.Lock()
	current, ok := e.snapshots[docID]
	if ok && current.Version > version {
		e.mu.Unlock()
		e.logger.Debug("discarding stale index build",
			"doc_id", docID,
			"version", version,
			"current_version", current.Version,
		)
		return current, nil
	}
	e.snapshots[docID] = snap
	count := len(e.snapshots)
	e.mu.Unlock()

	elapsed := time.Since(start)
	e.countBuild("ok")
	e.setPublished(count)
	if e.metrics != nil {
		e.metrics.IndexBuildDuration.Observe(elapsed.Seconds())
	}
	e.logger.Info("index published",
		"doc_id", docID,
		"version", version,
		"chunk_count", idx.ChunkCount(),
		"avg_chunk_length", idx.AvgChunkLength(),
		"vocabulary", idx.VocabularySize(),
		"latency_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

func fingerprint(idx *index.Index) string {
	h := sha256.New()
	for i := 0; i < idx.ChunkCount(); i++ {
		h.Write([]byte(idx.ChunkAt(i)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

func (e *Engine) countBuild(status string) {
	if e.metrics != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) setPublished(count int) {
	if e.metrics != nil {
		e.metrics.PublishedSnapshots.Set(float64(count))
	}
}
