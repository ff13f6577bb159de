package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/utils/errutil"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Error codes in error responses
const (
	CodeInvalidArgument      = "invalid_argument"
	CodeNotFound             = "not_found"
	CodeConversationBusy     = "conversation_busy"
	CodeIndexUnavailable     = "index_unavailable"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeGenerationFailed     = "generation_failed"
	CodeRetrievalFailed      = "retrieval_failed"
	CodeInternal             = "internal"
)

type errorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	UserMessageSaved bool   `json:"user_message_saved"`
	UserMessageID    string `json:"user_message_id,omitempty"`
}

// classifyError maps an error to an HTTP status and error code
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument), errors.Is(err, model.ErrSchemaViolation):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, model.ErrConversationBusy):
		return http.StatusConflict, CodeConversationBusy
	case errors.Is(err, model.ErrGenerationFailed):
		return http.StatusBadGateway, CodeGenerationFailed
	case errors.Is(err, model.ErrRetrievalFailed):
		return http.StatusBadGateway, CodeRetrievalFailed
	case errors.Is(err, model.ErrEmbeddingUnavailable):
		return http.StatusBadGateway, CodeEmbeddingUnavailable
	case errors.Is(err, model.ErrIndexUnavailable):
		return http.StatusBadGateway, CodeIndexUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// handleError writes the error response. Internal error details are not exposed.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classifyError(err)

	body := errorResponse{
		Error: err.Error(),
		Code:  code,
	}
	if status == http.StatusInternalServerError {
		body.Error = http.StatusText(status)
	}

	var turnErr *model.TurnError
	if errors.As(err, &turnErr) {
		body.UserMessageSaved = turnErr.UserMessageSaved
		if turnErr.UserMessageSaved {
			body.UserMessageID = string(turnErr.UserMessageID)
		}
	}

	errutil.HandleHTTPWithBody(ctx, w, err, status, body)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(ctx).Error("failed to write response", "error", err.Error())
	}
}

// decodeJSON reads a JSON body of at most limit bytes into v
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return goerr.Wrap(model.ErrInvalidArgument, "invalid request body", goerr.V("cause", err.Error()))
	}
	return nil
}
