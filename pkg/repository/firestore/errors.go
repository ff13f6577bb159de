package firestore

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// isTransient reports whether a Firestore error is worth retrying
func isTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// wrapUnavailable maps a backend failure of the vector index to ErrIndexUnavailable
func wrapUnavailable(err error, msg string, opts ...goerr.Option) error {
	if isTransient(err) {
		opts = append(opts, goerr.T(model.TagTransient))
	}
	return goerr.Wrap(model.ErrIndexUnavailable, msg, append(opts, goerr.V("cause", err.Error()))...)
}
