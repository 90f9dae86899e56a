// Package poll waits for external conditions with a fixed interval and an
// overall deadline.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siderolabs/go-retry/retry"
)

// ErrTimeout is returned when a condition is still unmet at the deadline.
var ErrTimeout = errors.New("timed out waiting for readiness")

// Policy is a bounded poll: check every Interval until Timeout has elapsed.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Condition reports whether the awaited state has been reached.
// A non-nil error aborts the wait immediately.
type Condition func(ctx context.Context) (bool, error)

// Until blocks until cond is satisfied, cond fails, or the policy's timeout
// elapses. Timeouts wrap ErrTimeout and name what was being awaited.
func (p Policy) Until(ctx context.Context, what string, cond Condition) error {
	var fatal error
	err := retry.Constant(p.Timeout, retry.WithUnits(p.Interval)).
		RetryWithContext(ctx, func(ctx context.Context) error {
			ok, err := cond(ctx)
			if err != nil {
				fatal = err
				return err
			}
			if !ok {
				return retry.ExpectedError(errors.New(what + " not ready"))
			}
			return nil
		})
	if err == nil {
		return nil
	}
	if fatal != nil {
		return fmt.Errorf("waiting for %s: %w", what, fatal)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s after %s", ErrTimeout, what, p.Timeout)
}
