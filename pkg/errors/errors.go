// Package errors holds the sentinel errors shared across services and the
// table that turns them into HTTP responses.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyCorpus          = errors.New("empty corpus")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrIdempotencyConflict  = errors.New("idempotency key already used")
	ErrTimeout              = errors.New("operation timed out")
	ErrIndexNotReady        = errors.New("index not ready")
	ErrUnavailable          = errors.New("dependency unavailable")
)

// class maps one family of errors to a status and a message that is safe to
// show clients. Order matters: the first match wins.
type class struct {
	match   []error
	status  int
	message string
}

var classes = []class{
	{[]error{ErrDocumentNotFound}, http.StatusNotFound, "document not found"},
	{[]error{ErrIdempotencyConflict}, http.StatusConflict, "idempotency key already in use"},
	{[]error{ErrInvalidInput, ErrInvalidConfiguration}, http.StatusBadRequest, "invalid request"},
	{[]error{ErrIndexNotReady}, http.StatusConflict, "document index is still building"},
	{[]error{ErrEmptyCorpus}, http.StatusUnprocessableEntity, "document has no indexed chunks"},
	{[]error{ErrUnavailable}, http.StatusServiceUnavailable, "service temporarily unavailable, retry later"},
	{[]error{ErrTimeout, context.DeadlineExceeded}, http.StatusServiceUnavailable, "request timed out"},
}

func classify(err error) (class, bool) {
	for _, c := range classes {
		for _, target := range c.match {
			if errors.Is(err, target) {
				return c, true
			}
		}
	}
	return class{}, false
}

// AppError pins a status and client message to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

// HTTPStatusCode picks the response status for err. An AppError carries its
// own status; otherwise sentinels are matched with errors.Is and anything
// unknown is a 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a client-facing description of err. Unknown errors
// get fallback so internal details never leak into responses.
func PublicMessage(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if c, ok := classify(err); ok {
		return c.message
	}
	return fallback
}
