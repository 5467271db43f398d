package ranker

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Params are the Okapi BM25 free parameters. K1 controls term-frequency
// saturation and B controls chunk-length normalisation.
type Params struct {
	K1 float64 `yaml:"k1" json:"k1"`
	B  float64 `yaml:"b" json:"b"`
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

func (p Params) Validate() error {
	if p.K1 < 0 || math.IsNaN(p.K1) || math.IsInf(p.K1, 0) {
		return fmt.Errorf("%w: bm25 k1 must be a non-negative number, got %v", apperrors.ErrInvalidConfiguration, p.K1)
	}
	if p.B < 0 || p.B > 1 || math.IsNaN(p.B) {
		return fmt.Errorf("%w: bm25 b must be within [0, 1], got %v", apperrors.ErrInvalidConfiguration, p.B)
	}
	return nil
}

// Scorer computes BM25 relevance of chunks in an Index. It holds no state
// besides its parameters and is safe for concurrent use.
type Scorer struct {
	params Params
}

func NewScorer(params Params) *Scorer {
	return &Scorer{params: params}
}

func (s *Scorer) Params() Params {
	return s.params
}

// IDF returns ln(1 + (N - df + 0.5) / (df + 0.5)) for a term that occurs in
// at least one chunk, and 0 for a term the index has never seen. The value is
// not clamped.
func (s *Scorer) IDF(idx *index.Index, term string) float64 {
	docFreq := idx.DocFreq(term)
	if docFreq == 0 {
		return 0
	}
	return computeIDF(int64(idx.ChunkCount()), int64(docFreq))
}

// Score returns the contribution of a single term to a chunk's relevance.
func (s *Scorer) Score(idx *index.Index, term string, chunkID string) float64 {
	termFreq := idx.TermFreq(chunkID, term)
	if termFreq == 0 {
		return 0
	}
	docFreq := idx.DocFreq(term)
	if docFreq == 0 {
		return 0
	}
	idf := computeIDF(int64(idx.ChunkCount()), int64(docFreq))
	return idf * s.computeTFNorm(
		float64(termFreq),
		float64(idx.ChunkLength(chunkID)),
		idx.AvgChunkLength(),
	)
}

// ScoreQuery sums Score over the query's token sequence. A term repeated in
// the query contributes once per occurrence.
func (s *Scorer) ScoreQuery(idx *index.Index, terms []string, chunkID string) float64 {
	var score float64
	for _, term := range terms {
		score += s.Score(idx, term, chunkID)
	}
	return score
}

func computeIDF(totalChunks int64, docFreq int64) float64 {
	numerator := float64(totalChunks) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func (s *Scorer) computeTFNorm(termFreq float64, chunkLength float64, avgChunkLength float64) float64 {
	lengthRatio := chunkLength / avgChunkLength
	denominator := termFreq + s.params.K1*(1-s.params.B+s.params.B*lengthRatio)
	return (termFreq * (s.params.K1 + 1)) / denominator
}
