package index

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

func corpus(texts ...string) []chunker.Chunk {
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{ID: fmt.Sprintf("c%d", i), Text: text}
	}
	return chunks
}

func TestBuildEmptyCorpus(t *testing.T) {
	for _, chunks := range [][]chunker.Chunk{nil, {}} {
		idx, err := Build(chunks)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrEmptyCorpus))
		assert.Nil(t, idx)
	}
}

func TestBuildCorpusWithoutTokens(t *testing.T) {
	_, err := Build(corpus("", "?!"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrEmptyCorpus))
}

func TestBuildStatistics(t *testing.T) {
	idx, err := Build(corpus("cat dog", "dog bird", "cat bird dog"))
	require.NoError(t, err)

	assert.Equal(t, 3, idx.ChunkCount())
	assert.Equal(t, []string{"c0", "c1", "c2"}, idx.ChunkOrder())
	assert.InDelta(t, 7.0/3.0, idx.AvgChunkLength(), 1e-12)
	assert.Equal(t, 7, idx.TotalTokens())
	assert.Equal(t, 3, idx.VocabularySize())

	assert.Equal(t, 3, idx.DocFreq("dog"))
	assert.Equal(t, 2, idx.DocFreq("cat"))
	assert.Equal(t, 2, idx.DocFreq("bird"))
	assert.Equal(t, 0, idx.DocFreq("fish"))

	assert.Equal(t, 2, idx.ChunkLength("c0"))
	assert.Equal(t, 3, idx.ChunkLength("c2"))
	assert.Equal(t, 0, idx.ChunkLength("missing"))

	assert.Equal(t, 1, idx.TermFreq("c2", "bird"))
	assert.Equal(t, 0, idx.TermFreq("c0", "bird"))
}

func TestBuildDocFreqCountsChunksNotOccurrences(t *testing.T) {
	idx, err := Build(corpus("dog dog dog", "cat"))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.DocFreq("dog"))
	assert.Equal(t, 3, idx.TermFreq("c0", "dog"))
}

func TestBuildCaseFoldsText(t *testing.T) {
	idx, err := Build(corpus("Dog DOG dog."))
	require.NoError(t, err)
	assert.Equal(t, 3, idx.TermFreq("c0", "dog"))
	assert.Equal(t, 3, idx.ChunkLength("c0"))
}

func TestBuildPreservesInputOrder(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "z", Text: "last letter"},
		{ID: "a", Text: "first letter"},
		{ID: "m", Text: "middle letter"},
	}
	idx, err := Build(chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, idx.ChunkOrder())
	for i, id := range []string{"z", "a", "m"} {
		pos, ok := idx.Position(id)
		require.True(t, ok)
		assert.Equal(t, i, pos)
		assert.Equal(t, id, idx.ChunkAt(i))
	}
}

func TestBuildSkipsRepeatedChunkIDs(t *testing.T) {
	a := chunker.New([]string{"repeated", "window"})
	b := chunker.New([]string{"other", "window"})
	idx, err := Build([]chunker.Chunk{a, b, a})
	require.NoError(t, err)

	assert.Equal(t, 2, idx.ChunkCount())
	assert.Equal(t, []string{a.ID, b.ID}, idx.ChunkOrder())
	assert.Equal(t, 2, idx.DocFreq("window"))
	assert.InDelta(t, 2.0, idx.AvgChunkLength(), 1e-12)
}

func TestBuildInvariants(t *testing.T) {
	chunks, err := chunker.Split("the quick brown fox jumps over the lazy dog and the quick cat naps", 4, 1)
	require.NoError(t, err)
	idx, err := Build(chunks)
	require.NoError(t, err)

	assert.Equal(t, idx.ChunkCount(), len(idx.ChunkOrder()))
	assert.Equal(t, idx.ChunkCount(), len(idx.chunks))
	assert.Greater(t, idx.AvgChunkLength(), 0.0)
	for term, df := range idx.docFreqs {
		assert.GreaterOrEqual(t, df, 1, term)
		assert.LessOrEqual(t, df, idx.ChunkCount(), term)
	}
}

func TestChunkOrderReturnsCopy(t *testing.T) {
	idx, err := Build(corpus("a", "b"))
	require.NoError(t, err)
	order := idx.ChunkOrder()
	order[0] = "mutated"
	assert.Equal(t, "c0", idx.ChunkOrder()[0])
}

func BenchmarkBuild(b *testing.B) {
	text := ""
	terms := []string{"retrieval", "chunk", "index", "query", "ranking", "document", "score", "term"}
	for i := 0; i < 20000; i++ {
		text += terms[i%len(terms)] + " "
	}
	chunks, err := chunker.Split(text, chunker.DefaultChunkSize, chunker.DefaultOverlap)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(chunks); err != nil {
			b.Fatal(err)
		}
	}
}
