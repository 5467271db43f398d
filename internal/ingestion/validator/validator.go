// Package validator checks ingestion requests and reports every failing
// field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion"
)

const (
	maxFileNameLength       = 1024
	maxTextBytes            = 25 << 20
	maxIdempotencyKeyLength = 255
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	name := strings.TrimSpace(req.FileName)
	if name == "" {
		errs["file_name"] = "file name is required"
	} else if len(name) > maxFileNameLength {
		errs["file_name"] = fmt.Sprintf("file name must be at most %d characters", maxFileNameLength)
	}
	if strings.TrimSpace(req.Text) == "" {
		errs["text"] = "text is required and must not be empty"
	} else if len(req.Text) > maxTextBytes {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextBytes)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKeyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
