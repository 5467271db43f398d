// Package chunker splits extracted document text into fixed-size, overlapping
// token windows. Each window becomes a retrievable Chunk whose ID is the
// SHA-256 of its text, so identical text always maps to the same ID.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// Chunk is an immutable window of a document's token sequence. Tokens may be
// nil for chunks loaded back from storage; consumers re-tokenize Text.
type Chunk struct {
	ID     string   `json:"chunk_id"`
	Text   string   `json:"text"`
	Tokens []string `json:"-"`
}

// Len returns the chunk length in tokens.
func (c Chunk) Len() int {
	if c.Tokens != nil {
		return len(c.Tokens)
	}
	return tokenizer.Count(c.Text)
}

// Validate reports whether chunkSize and overlap describe a window that
// always advances.
func Validate(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", apperrors.ErrInvalidConfiguration, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", apperrors.ErrInvalidConfiguration, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", apperrors.ErrInvalidConfiguration, overlap, chunkSize)
	}
	return nil
}

// Split tokenizes text and slides a window of chunkSize tokens across it,
// advancing chunkSize-overlap tokens per step. The last window may be shorter
// than chunkSize. Text without tokens yields no chunks and no error.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return []Chunk{}, nil
	}
	step := chunkSize - overlap
	chunks := make([]Chunk, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := min(start+chunkSize, len(tokens))
		window := tokens[start:end:end]
		chunks = append(chunks, New(window))
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// New builds a Chunk from an already tokenized window.
func New(tokens []string) Chunk {
	text := strings.Join(tokens, " ")
	return Chunk{
		ID:     HashID(text),
		Text:   text,
		Tokens: tokens,
	}
}

// HashID derives the content identifier for chunk text.
func HashID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
