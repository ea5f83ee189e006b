// Package retry provides a generic bounded-retry executor with backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Classification decides what happens to a failed attempt.
type Classification int

// Attempt dispositions returned by a ClassifyFunc.
const (
	// Terminal failures end the run immediately.
	Terminal Classification = iota
	// Transient failures are retried until attempts are exhausted.
	Transient
)

// ClassifyFunc inspects an attempt error and chooses a disposition.
type ClassifyFunc func(err error) Classification

// BackoffFunc returns the delay before the given attempt (1-based, so the
// delay after attempt n is backoff(n)).
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff returns base × attempt. Attempts here are few, so linear is
// sufficient and easier to reason about under test than exponential curves.
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Outcome is the immutable result of a Run.
type Outcome[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Failed reports whether the run ended without a success.
func (o Outcome[T]) Failed() bool {
	return o.Err != nil
}

// Run invokes op up to maxAttempts times. A nil error is a success. A
// Terminal classification stops immediately; Transient failures sleep per
// backoff and retry. Context cancellation always stops the run. The last
// error and total attempt count are carried on the outcome.
func Run[T any](
	ctx context.Context,
	maxAttempts int,
	classify ClassifyFunc,
	backoff BackoffFunc,
	op func(ctx context.Context) (T, error),
) Outcome[T] {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return Outcome[T]{Value: value, Attempts: attempt}
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome[T]{Attempts: attempt, Err: err}
		}
		if classify != nil && classify(err) == Terminal {
			return Outcome[T]{Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, delayFor(backoff, attempt)); err != nil {
			return Outcome[T]{Attempts: attempt, Err: err}
		}
	}
	return Outcome[T]{Attempts: maxAttempts, Err: lastErr}
}

func delayFor(backoff BackoffFunc, attempt int) time.Duration {
	if backoff == nil {
		return 0
	}
	return backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
