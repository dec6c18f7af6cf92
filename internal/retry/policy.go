// Package retry repeats upstream calls that failed transiently. Whether a
// failure is transient is decided in exactly one place, IsRetryable, so that
// every caller agrees on the same closed classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/btcsuite/btclog/v2"
	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the total number of attempts, including the
	// first one.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait before the second attempt.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps any single wait.
	DefaultMaxDelay = 10 * time.Second
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The wait before attempt n+1 is
// BaseDelay * 2^(n-1), capped at MaxDelay, with no jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts. Values below one are
	// treated as one.
	MaxAttempts int

	// BaseDelay is the first wait.
	BaseDelay time.Duration

	// MaxDelay caps every wait.
	MaxDelay time.Duration

	// Log receives a line for every retry scheduled.
	Log btclog.Logger
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d",
			p.MaxAttempts)

	case p.BaseDelay < 0:
		return fmt.Errorf("base delay must not be negative, got %v",
			p.BaseDelay)

	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("max delay %v is below base delay %v",
			p.MaxDelay, p.BaseDelay)
	}

	return nil
}

// attempts returns the effective attempt budget.
func (p Policy) attempts() uint {
	if p.MaxAttempts < 1 {
		return 1
	}

	return uint(p.MaxAttempts)
}

// schedule returns a fresh exponential schedule for a single Do call.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(p.MaxDelay, p.BaseDelay),
	}
	b.Reset()

	return b
}

// IsRetryable reports whether err is a transient upstream failure: a
// transport error, a timeout, rate limiting or a 5xx response. Everything
// else, including the caller's own cancellation and any error not produced
// by the remote client, is terminal.
func IsRetryable(err error) bool {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		return false
	}

	return rerr.Retryable()
}

// Do runs op until it succeeds, fails terminally, or the attempt budget is
// spent. The error returned is always the last one op produced, unwrapped,
// unless ctx ended while waiting, in which case the context's error is
// returned. The name labels retry log lines.
func Do[T any](
	ctx context.Context, p Policy, name string,
	op func(context.Context) (T, error),
) (T, error) {

	log := p.Log
	if log == nil {
		log = btclog.Disabled
	}

	attempt := 0
	res, err := backoff.Retry(ctx,
		func() (T, error) {
			attempt++

			v, err := op(ctx)
			if err != nil && !IsRetryable(err) {
				return v, backoff.Permanent(err)
			}

			return v, err
		},
		backoff.WithBackOff(p.schedule()),
		backoff.WithMaxTries(p.attempts()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WarnS(ctx, "Retrying upstream call", err,
				"op", name,
				"attempt", attempt,
				"max_attempts", p.attempts(),
				"next_in", next,
			)
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	return res, err
}
