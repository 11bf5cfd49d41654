// Package backoff absorbs rate-limit signals from the remote service by
// sleeping for the server-suggested duration and retrying. It is applied at
// the granularity of each individual remote call, including each fetch-next
// step of a paged listing, so iteration position survives a mid-stream
// rate limit.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgdog/internal/logger"
)

// minWait is the floor applied to server-suggested waits.
const minWait = time.Second

// RateLimitError is a rate-limit signal carrying the wait the server asked
// for. Remote adapters convert their transport-specific errors into this
// type; everything above them retries on it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Executor retries operations that fail with a RateLimitError.
//
// MaxRetries bounds the number of retries; zero means retry forever, which
// is the default. When the bound is exceeded the last RateLimitError is
// returned to the caller.
type Executor struct {
	MaxRetries int

	// OnWait, if set, observes every backoff sleep (used for metrics).
	OnWait func(d time.Duration)

	logger *logger.Logger
}

// New builds an executor. A zero maxRetries retries without bound.
func New(maxRetries int, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{MaxRetries: maxRetries, logger: log}
}

// Do runs op, sleeping and retrying on every RateLimitError. Any other
// error, and success, pass straight through. The context aborts a pending
// sleep.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	attempts := 0
	for {
		err := op()
		if err == nil {
			return nil
		}

		var rle *RateLimitError
		if !errors.As(err, &rle) {
			return err
		}

		attempts++
		if e.MaxRetries > 0 && attempts > e.MaxRetries {
			return err
		}

		if err := e.sleep(ctx, rle.RetryAfter); err != nil {
			return err
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, op func() (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

func (e *Executor) sleep(ctx context.Context, suggested time.Duration) error {
	wait := suggested
	if wait < minWait {
		wait = minWait
	}

	e.logger.Warn("rate limited by remote service, backing off",
		logger.Field{Key: "wait", Value: wait.String()})
	if e.OnWait != nil {
		e.OnWait(wait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
