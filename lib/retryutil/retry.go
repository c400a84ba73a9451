package retryutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RequestError wraps the last underlying error once every attempt has
// been exhausted.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed after retries: %s", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error as non-transient so Do gives up immediately.
// Auth rejections and malformed payloads should never be retried, only
// network-level failures.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type Policy struct {
	// total attempts, including the first one
	Attempts int
	// delay before the second attempt; doubles every attempt after that
	BaseDelay time.Duration
}

var Default = Policy{
	Attempts:  3,
	BaseDelay: time.Second * 2,
}

// Do runs fn until it succeeds or attempts run out, sleeping
// BaseDelay * 2^(n-1) between attempts. The context is checked between
// attempts; mid-request cancellation is the transport's problem.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			delay := p.BaseDelay << (attempt - 2)
			slog.DebugContext(
				ctx, "retrying request",
				"attempt", attempt,
				"delay", delay,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
	}
	return &RequestError{Err: last}
}

// Do runs fn under the default policy: 3 attempts, 2s then 4s in between.
func Do(ctx context.Context, fn func() error) error {
	return Default.Do(ctx, fn)
}
