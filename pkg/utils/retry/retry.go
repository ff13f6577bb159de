package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Policy bounds one external call: how many attempts, how long each may take and how long to
// wait between them.
type Policy struct {
	MaxAttempts     int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Retryable decides whether an attempt error is retried. IsTransient is used when nil.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts of 10s each with 100ms..2s exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Timeout:         10 * time.Second,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// IsTransient reports errors tagged model.TagTransient and attempt timeouts
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if goerr.HasTag(err, model.TagTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
// Each attempt gets its own timeout derived from ctx. The last attempt error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	var attempt int
	var lastErr error
	op := func() error {
		attempt++
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Cancellation of the caller is final even though the attempt saw a deadline
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		logging.From(ctx).Debug("retrying after transient error",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err.Error())
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
