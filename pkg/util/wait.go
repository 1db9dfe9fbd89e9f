package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type RetryOptions struct {
	// Immediate when true runs the condition first & then waits
	// if required
	Immediate bool
	Interval  time.Duration
	Timeout   time.Duration
}

// Retry executes the condition repeatedly in intervals till the
// condition returns true, the timeout elapses or the context is done
//
// Note: It is valid for a condition to return true with error
// Note: The last error returned by the condition is preserved
func Retry(ctx context.Context, opts RetryOptions, cond func(ctx context.Context) (bool, error)) error {
	var count = 1
	start := time.Now()

	var wait = func() error {
		timer := time.NewTimer(opts.Interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "aborted after %d attempts", count)
		case <-timer.C:
			return nil
		}
	}

	for {
		if !opts.Immediate {
			if err := wait(); err != nil {
				return err
			}
		}
		done, err := cond(ctx)
		if done {
			// this may or may not be nil
			return err
		}
		elapsed := time.Since(start)
		if elapsed > opts.Timeout {
			return errors.Errorf("timed out after %s with %d attempts: %v", elapsed.Round(time.Millisecond), count, err)
		}
		count++
		if opts.Immediate {
			if err := wait(); err != nil {
				return err
			}
		}
	}
}
