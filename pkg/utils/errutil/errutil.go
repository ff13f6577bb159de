package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Handle logs the error with its goerr values and stack, reports it to Sentry when a client
// is configured, and returns err unchanged.
func Handle(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}

	logAttrs(ctx, slog.LevelError, msg, err)
	report(ctx, err)
	return err
}

// HandleHTTP logs the error and writes a JSON error response of the form {"error": "..."}.
// 5xx errors are logged at error level and reported to Sentry, 4xx at warn level.
func HandleHTTP(ctx context.Context, w http.ResponseWriter, err error, statusCode int) {
	if err == nil {
		return
	}
	HandleHTTPWithBody(ctx, w, err, statusCode, map[string]string{"error": err.Error()})
}

// HandleHTTPWithBody is HandleHTTP with a caller-built response body
func HandleHTTPWithBody(ctx context.Context, w http.ResponseWriter, err error, statusCode int, body any) {
	if err == nil {
		return
	}

	if statusCode >= http.StatusInternalServerError {
		logAttrs(ctx, slog.LevelError, "HTTP error", err, slog.Int("status", statusCode))
		report(ctx, err)
	} else {
		logAttrs(ctx, slog.LevelWarn, "HTTP client error", err, slog.Int("status", statusCode))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		logging.From(ctx).Error("failed to write error response", "error", encErr.Error())
	}
}

func logAttrs(ctx context.Context, level slog.Level, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err.Error())

	var ge *goerr.Error
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values(), "stack", ge.Stacks())
	}

	logging.From(ctx).Log(ctx, level, msg, attrs...)
}

func report(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}
	hub.CaptureException(err)
}
