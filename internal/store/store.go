// Package store persists documents and their chunks in PostgreSQL. Chunks
// are stored in window order so an index rebuilt from the store sees exactly
// the chunk sequence the chunker produced.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/chunker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusIndexed Status = "INDEXED"
	StatusFailed  Status = "FAILED"
)

// TermCount is one entry of a document's most frequent terms.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type Document struct {
	ID             string      `json:"document_id"`
	FileName       string      `json:"file_name"`
	ContentHash    string      `json:"content_hash"`
	ContentSize    int         `json:"content_size"`
	Body           string      `json:"-"`
	TopTerms       []TermCount `json:"top_terms"`
	Status         Status      `json:"status"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	ChunkCount     int         `json:"chunk_count"`
	CreatedAt      time.Time   `json:"created_at"`
	IndexedAt      *time.Time  `json:"indexed_at,omitempty"`
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS documents (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		file_name       TEXT NOT NULL,
		content_hash    TEXT NOT NULL,
		content_size    INTEGER NOT NULL,
		body            TEXT NOT NULL,
		top_terms       JSONB NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL DEFAULT 'PENDING',
		idempotency_key TEXT UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		indexed_at      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		chunk_id    TEXT NOT NULL,
		text        TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		PRIMARY KEY (document_id, position)
	)`,
}

type Store struct {
	db *postgres.Client
}

func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables the platform needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, schema...); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// CreateDocument inserts doc with status PENDING and returns its new ID. A
// concurrent insert with the same idempotency key yields
// ErrIdempotencyConflict.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) (string, error) {
	terms, err := json.Marshal(doc.TopTerms)
	if err != nil {
		return "", fmt.Errorf("encoding top terms: %w", err)
	}
	var id string
	err = s.db.DB.QueryRowContext(ctx,
		`INSERT INTO documents (file_name, content_hash, content_size, body, top_terms, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
		doc.FileName, doc.ContentHash, doc.ContentSize, doc.Body, terms, StatusPending, nullableString(doc.IdempotencyKey),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.New(apperrors.ErrIdempotencyConflict, 409, "idempotency key already in use")
	}
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

// FindByIdempotencyKey returns the document created with key, or nil when
// there is none.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*Document, error) {
	doc, err := s.scanDocument(s.db.DB.QueryRowContext(ctx, selectDocument+` WHERE d.idempotency_key = $1`, key))
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		return nil, nil
	}
	return doc, err
}

// GetDocument loads a document including its body and current chunk count.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	if uuid.Validate(id) != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, id)
	}
	doc, err := s.scanDocument(s.db.DB.QueryRowContext(ctx, selectDocument+` WHERE d.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns document metadata, newest first. Bodies are not
// loaded.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT d.id, d.file_name, d.content_hash, d.content_size, d.status, d.created_at, d.indexed_at,
			(SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d ORDER BY d.created_at DESC, d.id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, limit)
	for rows.Next() {
		var (
			doc       Document
			indexedAt sql.NullTime
		)
		if err := rows.Scan(&doc.ID, &doc.FileName, &doc.ContentHash, &doc.ContentSize,
			&doc.Status, &doc.CreatedAt, &indexedAt, &doc.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		if indexedAt.Valid {
			doc.IndexedAt = &indexedAt.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const selectDocument = `SELECT d.id, d.file_name, d.content_hash, d.content_size, d.body, d.top_terms,
	d.status, COALESCE(d.idempotency_key, ''), d.created_at, d.indexed_at,
	(SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
	FROM documents d`

func (s *Store) scanDocument(row *sql.Row) (*Document, error) {
	var (
		doc       Document
		terms     []byte
		indexedAt sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.FileName, &doc.ContentHash, &doc.ContentSize, &doc.Body, &terms,
		&doc.Status, &doc.IdempotencyKey, &doc.CreatedAt, &indexedAt, &doc.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	if err := json.Unmarshal(terms, &doc.TopTerms); err != nil {
		return nil, fmt.Errorf("decoding top terms: %w", err)
	}
	if indexedAt.Valid {
		doc.IndexedAt = &indexedAt.Time
	}
	return &doc, nil
}

// ReplaceChunks swaps the document's stored chunks for chunks in a single
// transaction, so readers see either the old set or the new one.
func (s *Store) ReplaceChunks(ctx context.Context, docID string, chunks []chunker.Chunk) error {
	if uuid.Validate(docID) != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
			return fmt.Errorf("deleting chunks of %s: %w", docID, err)
		}
		if len(chunks) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("chunks", "document_id", "position", "chunk_id", "text", "token_count"))
		if err != nil {
			return fmt.Errorf("preparing chunk copy: %w", err)
		}
		defer stmt.Close()
		for i, c := range chunks {
			if _, err := stmt.ExecContext(ctx, docID, i, c.ID, c.Text, c.Len()); err != nil {
				return fmt.Errorf("copying chunk %d of %s: %w", i, docID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flushing chunk copy for %s: %w", docID, err)
		}
		return nil
	})
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	}
	return err
}

// LoadChunks returns the document's chunks in window order. The document row
// and its chunks are read in one statement. An unknown document is
// ErrDocumentNotFound; a PENDING document with no chunks yet is
// ErrIndexNotReady. Other documents without chunks yield an empty slice.
func (s *Store) LoadChunks(ctx context.Context, docID string) ([]chunker.Chunk, error) {
	if uuid.Validate(docID) != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT d.status, c.chunk_id, c.text
		FROM documents d LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.id = $1
		ORDER BY c.position`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks of %s: %w", docID, err)
	}
	defer rows.Close()

	var (
		found  bool
		status Status
	)
	chunks := make([]chunker.Chunk, 0)
	for rows.Next() {
		var id, text sql.NullString
		if err := rows.Scan(&status, &id, &text); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		found = true
		if id.Valid {
			chunks = append(chunks, chunker.Chunk{ID: id.String, Text: text.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks of %s: %w", docID, err)
	}
	switch {
	case !found:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	case len(chunks) == 0 && status == StatusPending:
		return nil, fmt.Errorf("%w: document %s is queued for indexing", apperrors.ErrIndexNotReady, docID)
	}
	return chunks, nil
}

// UpdateStatus sets the document's indexing status. INDEXED also stamps
// indexed_at.
func (s *Store) UpdateStatus(ctx context.Context, docID string, status Status) error {
	if uuid.Validate(docID) != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE documents
		SET status = $1, indexed_at = CASE WHEN $1 = 'INDEXED' THEN NOW() ELSE indexed_at END
		WHERE id = $2`,
		status, docID,
	)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", docID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
	}
	return nil
}

// isForeignKeyViolation reports whether err is a Postgres foreign_key_violation
// (SQLSTATE 23503), raised when chunks reference a deleted document.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
