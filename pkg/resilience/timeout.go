package resilience

import (
	"context"
	"fmt"
	"time"
)

// DeadlineError reports that Op ran past Limit. It matches
// context.DeadlineExceeded under errors.Is.
type DeadlineError struct {
	Op    string
	Limit time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s: exceeded %v", e.Op, e.Limit)
}

func (e *DeadlineError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout bounds op, such as a parse result insert, to limit. It returns
// as soon as the limit passes even if fn ignores its context. Cancellation
// of ctx itself is reported as ctx's error, not as a DeadlineError. A
// non-positive limit runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(bounded) }()

	select {
	case err := <-done:
		return err
	case <-bounded.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &DeadlineError{Op: op, Limit: limit}
	}
}
