package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

// WithTimeout runs fn under a deadline. See WithTimeoutValue.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutValue(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithTimeoutValue runs fn in its own goroutine and stops waiting for it
// once timeout passes, even if fn ignores its context. The error then wraps
// both apperrors.ErrTimeout and context.DeadlineExceeded. The late result of
// an abandoned fn is discarded. A non-positive timeout calls fn directly.
func WithTimeoutValue[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != context.DeadlineExceeded {
			return zero, fmt.Errorf("%s: cancelled: %w", name, cause)
		}
		return zero, fmt.Errorf("%s: %w: %w (limit %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, timeout)
	}
}
