// Package ingestion defines the request/response types and Kafka event
// schemas of the document pipeline: ingestion publishes IngestEvents, the
// indexer answers with IndexCompleteEvents.
package ingestion

import (
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
)

// TopTermsLimit is the number of frequent terms stored per document.
const TopTermsLimit = 10

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint.
// Text is already extracted from the source file.
type IngestRequest struct {
	FileName       string `json:"file_name"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key"`
}

type IngestResponse struct {
	DocumentID string            `json:"document_id"`
	FileName   string            `json:"file_name"`
	Status     string            `json:"status"`
	TopTerms   []store.TermCount `json:"top_terms"`
}

// IndexStatusResponse reports whether a document can be queried.
type IndexStatusResponse struct {
	DocumentID string     `json:"document_id"`
	Status     string     `json:"status"`
	ChunkCount int        `json:"chunk_count"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

const (
	IndexReady    = "ready"
	IndexBuilding = "building"
	IndexFailed   = "failed"
)

// IngestEvent asks the indexer to (re)chunk a document. It only names the
// document: the indexer reads the body from the store, so message size does
// not grow with the document.
type IngestEvent struct {
	DocumentID string    `json:"document_id"`
	FileName   string    `json:"file_name"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IndexCompleteEvent announces that a document's chunks were replaced.
type IndexCompleteEvent struct {
	DocumentID string    `json:"document_id"`
	ChunkCount int       `json:"chunk_count"`
	TokenCount int       `json:"token_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// TopTerms returns the k most frequent tokens of text. Equal counts are
// ordered alphabetically.
func TopTerms(text string, k int) []store.TermCount {
	if k <= 0 {
		return []store.TermCount{}
	}
	counts := make(map[string]int)
	for _, tok := range tokenizer.Tokenize(text) {
		counts[tok]++
	}
	terms := make([]store.TermCount, 0, len(counts))
	for term, n := range counts {
		terms = append(terms, store.TermCount{Term: term, Count: n})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

// IndexStatusFor maps a stored document status to its index status.
func IndexStatusFor(status store.Status) string {
	switch status {
	case store.StatusIndexed:
		return IndexReady
	case store.StatusFailed:
		return IndexFailed
	default:
		return IndexBuilding
	}
}
