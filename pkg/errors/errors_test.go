package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrDocumentNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("loading doc: %w", ErrDocumentNotFound), http.StatusNotFound},
		{"conflict", ErrIdempotencyConflict, http.StatusConflict},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"invalid configuration", fmt.Errorf("%w: overlap 10 >= chunk size 10", ErrInvalidConfiguration), http.StatusBadRequest},
		{"empty corpus", fmt.Errorf("building index: %w", ErrEmptyCorpus), http.StatusUnprocessableEntity},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"index building", fmt.Errorf("loading chunks: %w", ErrIndexNotReady), http.StatusConflict},
		{"broker down", fmt.Errorf("%w: publishing: %w", ErrUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"app error wins", New(ErrDocumentNotFound, http.StatusGone, "gone"), http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "field %s missing", "doc_id")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "invalid input: field doc_id missing", err.Error())
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "document not found", PublicMessage(fmt.Errorf("loading: %w", ErrDocumentNotFound), "failed"))
	assert.Equal(t, "request timed out", PublicMessage(context.DeadlineExceeded, "failed"))
	assert.Equal(t, "key taken", PublicMessage(New(ErrIdempotencyConflict, http.StatusConflict, "key taken"), "failed"))
	assert.Equal(t, "failed", PublicMessage(errors.New("pq: connection reset"), "failed"))
	assert.Equal(t, "document index is still building", PublicMessage(ErrIndexNotReady, "failed"))
}
