package analytics

import "time"

type EventType string

const (
	EventQuestion EventType = "qa_question"
	EventIndexDoc EventType = "index_document"
)

// QAEvent records one ranked question against one document.
type QAEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	Question   string    `json:"question"`
	Terms      []string  `json:"terms"`
	Returned   int       `json:"returned"`
	TopScore   float64   `json:"top_score"`
	Matched    bool      `json:"matched"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// IndexEvent records the outcome of chunking and indexing one document.
type IndexEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	TokenCount int       `json:"token_count"`
	SizeBytes  int       `json:"size_bytes"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// envelope peeks at the discriminator before decoding the full event.
type envelope struct {
	Type EventType `json:"type"`
}
