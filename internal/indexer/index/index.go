// Package index builds the term-statistics index that BM25 ranking reads.
// An Index is built once from an ordered chunk set and is immutable
// afterwards, so any number of goroutines may read it without locking.
package index

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

// chunkStats holds the statistics of one chunk.
type chunkStats struct {
	Length    int
	TermFreqs map[string]int
}

type Index struct {
	chunks         map[string]chunkStats
	docFreqs       map[string]int
	chunkOrder     []string
	position       map[string]int
	totalTokens    int
	avgChunkLength float64
}

// Build aggregates term statistics over chunks. Each chunk's Text is
// re-tokenized; precomputed Tokens are ignored so that indexes built from
// stored chunks and freshly split chunks are identical.
//
// chunk_order records input order. A chunk whose ID was already seen carries
// the same text by construction and is skipped, which keeps the chunk count,
// the order, and the statistics map the same size.
func Build(chunks []chunker.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", apperrors.ErrEmptyCorpus)
	}
	idx := &Index{
		chunks:     make(map[string]chunkStats, len(chunks)),
		docFreqs:   make(map[string]int),
		chunkOrder: make([]string, 0, len(chunks)),
		position:   make(map[string]int, len(chunks)),
	}
	for _, c := range chunks {
		if _, dup := idx.chunks[c.ID]; dup {
			continue
		}
		tokens := tokenizer.Tokenize(c.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.docFreqs[term]++
		}
		idx.chunks[c.ID] = chunkStats{Length: len(tokens), TermFreqs: tf}
		idx.position[c.ID] = len(idx.chunkOrder)
		idx.chunkOrder = append(idx.chunkOrder, c.ID)
		idx.totalTokens += len(tokens)
	}
	if idx.totalTokens == 0 {
		return nil, fmt.Errorf("%w: %d chunks contain no tokens", apperrors.ErrEmptyCorpus, len(idx.chunkOrder))
	}
	idx.avgChunkLength = float64(idx.totalTokens) / float64(len(idx.chunkOrder))
	return idx, nil
}

// ChunkCount is N in the BM25 formula.
func (idx *Index) ChunkCount() int {
	return len(idx.chunkOrder)
}

func (idx *Index) AvgChunkLength() float64 {
	return idx.avgChunkLength
}

func (idx *Index) TotalTokens() int {
	return idx.totalTokens
}

// ChunkOrder returns a copy of the chunk IDs in insertion order.
func (idx *Index) ChunkOrder() []string {
	out := make([]string, len(idx.chunkOrder))
	copy(out, idx.chunkOrder)
	return out
}

// ChunkAt returns the ID at position i of chunk_order.
func (idx *Index) ChunkAt(i int) string {
	return idx.chunkOrder[i]
}

// Position returns the chunk's index in chunk_order.
func (idx *Index) Position(chunkID string) (int, bool) {
	p, ok := idx.position[chunkID]
	return p, ok
}

func (idx *Index) Contains(chunkID string) bool {
	_, ok := idx.chunks[chunkID]
	return ok
}

// ChunkLength returns the token count of the chunk, or 0 when it is not
// indexed.
func (idx *Index) ChunkLength(chunkID string) int {
	return idx.chunks[chunkID].Length
}

// TermFreq returns how often term occurs in the chunk; 0 when absent.
func (idx *Index) TermFreq(chunkID, term string) int {
	return idx.chunks[chunkID].TermFreqs[term]
}

// DocFreq returns the number of chunks containing term at least once.
func (idx *Index) DocFreq(term string) int {
	return idx.docFreqs[term]
}

// VocabularySize returns the number of distinct terms in the index.
func (idx *Index) VocabularySize() int {
	return len(idx.docFreqs)
}
