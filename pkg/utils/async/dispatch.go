package async

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Dispatch executes handler in a new goroutine under a context that is detached from ctx's
// cancellation but keeps its values (logger, scope). Errors and panics are logged.
// A positive timeout bounds the detached work.
func Dispatch(ctx context.Context, timeout time.Duration, handler func(ctx context.Context) error) {
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		runCtx := bgCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(bgCtx, timeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				logging.From(runCtx).Error("panic in async handler", "panic", r)
			}
		}()

		if err := handler(runCtx); err != nil {
			logger := logging.From(runCtx)
			if ge := goerr.Unwrap(err); ge != nil {
				logger.Error("async handler failed", "error", err.Error(), "values", ge.Values())
				return
			}
			logger.Error("async handler failed", "error", err.Error())
		}
	}()
}
