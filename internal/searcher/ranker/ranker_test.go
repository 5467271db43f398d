package ranker

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

func buildIndex(t testing.TB, texts ...string) *index.Index {
	t.Helper()
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{ID: fmt.Sprintf("c%d", i), Text: text}
	}
	idx, err := index.Build(chunks)
	require.NoError(t, err)
	return idx
}

func TestScoreKnownValues(t *testing.T) {
	idx := buildIndex(t, "cat dog", "dog bird", "cat bird dog")
	s := NewScorer(DefaultParams())

	idf := math.Log(1 + 0.5/3.5)
	assert.InDelta(t, 0.1335, idf, 1e-4)
	assert.InDelta(t, idf, s.IDF(idx, "dog"), 1e-12)

	avg := 7.0 / 3.0
	want := func(length float64) float64 {
		return idf * 2.2 / (1 + 1.2*(1-0.75+0.75*(length/avg)))
	}
	assert.InDelta(t, want(2), s.Score(idx, "dog", "c0"), 1e-12)
	assert.InDelta(t, want(2), s.Score(idx, "dog", "c1"), 1e-12)
	assert.InDelta(t, want(3), s.Score(idx, "dog", "c2"), 1e-12)
	assert.Greater(t, s.Score(idx, "dog", "c0"), s.Score(idx, "dog", "c2"))
}

func TestScoreZeroTermFrequency(t *testing.T) {
	idx := buildIndex(t, "cat dog", "dog bird", "cat bird dog")
	s := NewScorer(DefaultParams())
	assert.Equal(t, 0.0, s.Score(idx, "bird", "c0"))
	assert.Equal(t, 0.0, s.Score(idx, "cat", "missing-chunk"))
}

func TestScoreUnknownTerm(t *testing.T) {
	idx := buildIndex(t, "cat dog", "dog bird")
	s := NewScorer(DefaultParams())
	assert.Equal(t, 0.0, s.IDF(idx, "fish"))
	assert.Equal(t, 0.0, s.Score(idx, "fish", "c0"))
	assert.Equal(t, 0.0, s.ScoreQuery(idx, []string{"fish", "whale"}, "c1"))
}

func TestScoreQuerySumsRepeatedTerms(t *testing.T) {
	idx := buildIndex(t, "cat dog", "dog bird", "cat bird dog")
	s := NewScorer(DefaultParams())

	single := s.ScoreQuery(idx, []string{"cat"}, "c0")
	double := s.ScoreQuery(idx, []string{"cat", "cat"}, "c0")
	assert.InDelta(t, 2*single, double, 1e-12)

	mixed := s.ScoreQuery(idx, []string{"cat", "dog"}, "c0")
	assert.InDelta(t, s.Score(idx, "cat", "c0")+s.Score(idx, "dog", "c0"), mixed, 1e-12)
	assert.Equal(t, 0.0, s.ScoreQuery(idx, nil, "c0"))
}

func TestScoreTermFrequencySaturates(t *testing.T) {
	idx := buildIndex(t, "dog cat cat cat", "dog cat fish fish", "bird fish fish fish")
	s := NewScorer(DefaultParams())
	// Same length, higher tf scores higher, but less than proportionally.
	high := s.Score(idx, "cat", "c0")
	low := s.Score(idx, "cat", "c1")
	assert.Greater(t, high, low)
	assert.Less(t, high, 3*low)
}

func TestScoreWithoutLengthNormalisation(t *testing.T) {
	idx := buildIndex(t, "dog", "dog cat bird fish")
	s := NewScorer(Params{K1: 1.2, B: 0})
	assert.InDelta(t, s.Score(idx, "dog", "c0"), s.Score(idx, "dog", "c1"), 1e-12)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		valid  bool
	}{
		{"defaults", DefaultParams(), true},
		{"zero k1", Params{K1: 0, B: 0.5}, true},
		{"b bounds", Params{K1: 2, B: 1}, true},
		{"negative k1", Params{K1: -1, B: 0.75}, false},
		{"b above one", Params{K1: 1.2, B: 1.5}, false},
		{"negative b", Params{K1: 1.2, B: -0.1}, false},
		{"nan k1", Params{K1: math.NaN(), B: 0.75}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))
		})
	}
}

func BenchmarkScoreQuery(b *testing.B) {
	texts := make([]string, 1000)
	terms := []string{"retrieval", "chunk", "index", "query", "ranking", "document"}
	for i := range texts {
		texts[i] = fmt.Sprintf("%s %s %s filler words here", terms[i%len(terms)], terms[(i+1)%len(terms)], terms[(i+3)%len(terms)])
	}
	idx := buildIndex(b, texts...)
	s := NewScorer(DefaultParams())
	query := []string{"chunk", "ranking", "unknown"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < idx.ChunkCount(); j++ {
			_ = s.ScoreQuery(idx, query, idx.ChunkAt(j))
		}
	}
}
