// Package retry wraps a fallible operation with bounded exponential backoff.
//
// Attempt 1 runs immediately. Before attempt k+1 the caller waits
// BaseDelay * 2^(k-1), so three attempts with a one second base delay wait
// one and then two seconds. On exhaustion the error of the final attempt is
// returned and earlier errors are discarded.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the number of attempts used when none is configured
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the delay before the second attempt when none is configured
	DefaultBaseDelay = time.Second
)

// Policy bounds a retried operation
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; later waits double
	BaseDelay time.Duration
}

// DefaultPolicy returns the policy used by sources that do not configure one
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Delay returns the wait before attempt number+1, or zero when number is the
// last attempt allowed by the policy.
func (p Policy) Delay(number int) time.Duration {
	p = p.normalized()
	if number < 1 || number >= p.MaxAttempts {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(number-1))
}

// Attempt describes one failed try of a retried operation
type Attempt struct {
	// Number is 1-based
	Number int
	// DelayBeforeNext is zero for the final attempt
	DelayBeforeNext time.Duration
	Err             error
}

// Option configures a single Do call
type Option func(*options)

type options struct {
	notify func(Attempt)
}

// WithNotify registers a hook invoked after every failed attempt, including
// the final one.
func WithNotify(fn func(Attempt)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Do runs op until it succeeds or the policy is exhausted.
// A successful result is returned as-is; an empty result is not a failure.
// Cancelling ctx aborts the wait between attempts and returns the context cause.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	policy = policy.normalized()

	if err := context.Cause(ctx); err != nil {
		var zero T
		return zero, err
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := op(ctx)
		if err != nil && o.notify != nil {
			o.notify(Attempt{
				Number:          attempt,
				DelayBeforeNext: policy.Delay(attempt),
				Err:             err,
			})
		}
		return result, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff(policy.BaseDelay)),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

func newBackOff(base time.Duration) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
	}
}
