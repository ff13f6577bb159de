package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Close closes closer and logs any error. A nil closer is ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// Run calls fn and logs any error. It is meant for deferred cleanup such as flushes.
func Run(ctx context.Context, name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		logging.From(ctx).Error("Failed to "+name, slog.Any("error", err))
	}
}
