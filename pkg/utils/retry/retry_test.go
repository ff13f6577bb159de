package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/utils/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient errors until success", func(t *testing.T) {
		var calls int
		err := retry.Do(ctx, fastPolicy(3), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return goerr.New("unavailable", goerr.T(model.TagTransient))
			}
			return nil
		})
		gt.NoError(t, err)
		gt.Value(t, calls).Equal(3)
	})

	t.Run("gives up after max attempts with the last error", func(t *testing.T) {
		var calls int
		err := retry.Do(ctx, fastPolicy(3), func(ctx context.Context) error {
			calls++
			return goerr.Wrap(model.ErrIndexUnavailable, "down", goerr.T(model.TagTransient))
		})
		gt.Error(t, err)
		gt.B(t, errors.Is(err, model.ErrIndexUnavailable)).True()
		gt.Value(t, calls).Equal(3)
	})

	t.Run("never retries permanent errors", func(t *testing.T) {
		var calls int
		err := retry.Do(ctx, fastPolicy(5), func(ctx context.Context) error {
			calls++
			return goerr.Wrap(model.ErrSchemaViolation, "bad dimension")
		})
		gt.B(t, errors.Is(err, model.ErrSchemaViolation)).True()
		gt.Value(t, calls).Equal(1)
	})

	t.Run("attempt timeout is transient", func(t *testing.T) {
		var calls int
		p := fastPolicy(2)
		p.Timeout = 10 * time.Millisecond
		err := retry.Do(ctx, p, func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		gt.B(t, errors.Is(err, context.DeadlineExceeded)).True()
		gt.Value(t, calls).Equal(2)
	})

	t.Run("custom retryable classifier", func(t *testing.T) {
		var calls int
		p := fastPolicy(4)
		p.Retryable = func(err error) bool { return errors.Is(err, model.ErrSequenceConflict) }
		err := retry.Do(ctx, p, func(ctx context.Context) error {
			calls++
			return goerr.Wrap(model.ErrSequenceConflict, "lost race")
		})
		gt.B(t, errors.Is(err, model.ErrSequenceConflict)).True()
		gt.Value(t, calls).Equal(4)
	})

	t.Run("cancelled caller stops retries", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		var calls int
		err := retry.Do(cctx, fastPolicy(5), func(ctx context.Context) error {
			calls++
			cancel()
			return goerr.New("unavailable", goerr.T(model.TagTransient))
		})
		gt.Error(t, err)
		gt.Value(t, calls).Equal(1)
	})
}
