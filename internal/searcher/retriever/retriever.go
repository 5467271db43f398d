// Package retriever turns BM25 scores into a capped, deterministically
// ordered result list. Scores are sorted descending and ties go to the chunk
// that appears earlier in the index's chunk order.
package retriever

import (
	"container/heap"
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/ranker"
)

// DefaultParallelThreshold is the chunk count at which scoring fans out to
// multiple goroutines.
const DefaultParallelThreshold = 4096

// RankedResult is one scored chunk.
type RankedResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type Retriever struct {
	scorer            *ranker.Scorer
	parallelThreshold int
	workers           int
}

type Option func(*Retriever)

// WithParallelThreshold sets the chunk count from which scoring runs in
// parallel. Zero or negative disables parallel scoring.
func WithParallelThreshold(n int) Option {
	return func(r *Retriever) {
		r.parallelThreshold = n
	}
}

func WithWorkers(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.workers = n
		}
	}
}

func New(scorer *ranker.Scorer, opts ...Option) *Retriever {
	r := &Retriever{
		scorer:            scorer,
		parallelThreshold: DefaultParallelThreshold,
		workers:           runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopN ranks every chunk of idx against query and returns at most n results.
// n <= 0 yields an empty result.
func (r *Retriever) TopN(idx *index.Index, query string, n int) []RankedResult {
	results, _ := r.TopNContext(context.Background(), idx, query, n)
	return results
}

// TopNContext is TopN with cancellation. The only error it returns is the
// context's.
func (r *Retriever) TopNContext(ctx context.Context, idx *index.Index, query string, n int) ([]RankedResult, error) {
	if n <= 0 {
		return []RankedResult{}, nil
	}
	terms := tokenizer.Tokenize(query)
	scores, err := r.scoreAll(ctx, idx, terms)
	if err != nil {
		return nil, err
	}
	return selectTop(idx, scores, n), nil
}

// scoreAll returns one score per chunk, indexed by chunk_order position.
func (r *Retriever) scoreAll(ctx context.Context, idx *index.Index, terms []string) ([]float64, error) {
	count := idx.ChunkCount()
	scores := make([]float64, count)
	if len(terms) == 0 {
		return scores, ctx.Err()
	}
	workers := r.workers
	if r.parallelThreshold <= 0 || count < r.parallelThreshold || workers <= 1 {
		for i := 0; i < count; i++ {
			if i%1024 == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			scores[i] = r.scorer.ScoreQuery(idx, terms, idx.ChunkAt(i))
		}
		return scores, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	span := (count + workers - 1) / workers
	for start := 0; start < count; start += span {
		lo, hi := start, min(start+span, count)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%1024 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				scores[i] = r.scorer.ScoreQuery(idx, terms, idx.ChunkAt(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// selectTop keeps the n best positions in a bounded min-heap whose root is
// the current worst candidate, then drains it best-first.
func selectTop(idx *index.Index, scores []float64, n int) []RankedResult {
	limit := min(n, len(scores))
	h := make(candidateHeap, 0, limit+1)
	for pos, score := range scores {
		heap.Push(&h, candidate{position: pos, score: score})
		if h.Len() > limit {
			heap.Pop(&h)
		}
	}
	results := make([]RankedResult, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(&h).(candidate)
		results[i] = RankedResult{ChunkID: idx.ChunkAt(c.position), Score: c.score}
	}
	return results
}

type candidate struct {
	position int
	score    float64
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

// Less orders worse candidates first: lower score, or equal score and later
// position.
func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].position > h[j].position
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
