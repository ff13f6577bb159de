package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/usecase"
)

type titleRequest struct {
	Title string `json:"title"`
}

type conversationListResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type messageListResponse struct {
	Messages []messageResponse `json:"messages"`
}

type submitTurnRequest struct {
	Message          string `json:"message"`
	IdempotencyToken string `json:"idempotency_token"`
	K                int    `json:"k"`
	OwnerOnly        bool   `json:"owner_only"`
	BestEffort       *bool  `json:"best_effort"`
}

type submitTurnResponse struct {
	AssistantText      string                 `json:"assistant_text"`
	References         []referenceResponse    `json:"references"`
	UserMessageID      string                 `json:"user_message_id"`
	AssistantMessageID string                 `json:"assistant_message_id"`
	UserSequence       int64                  `json:"user_sequence"`
	AssistantSequence  int64                  `json:"assistant_sequence"`
	Context            []rankedResultResponse `json:"context"`
	State              string                 `json:"state"`
	Replayed           bool                   `json:"replayed"`
	Degraded           bool                   `json:"degraded"`
}

func conversationIDParam(r *http.Request) model.ConversationID {
	return model.ConversationID(chi.URLParam(r, "conversationID"))
}

func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req titleRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	conv, err := s.uc.Conversation.Create(ctx, requestScope(r), req.Title)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := s.uc.Conversation.List(ctx, requestScope(r))
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := conversationListResponse{Conversations: make([]conversationResponse, len(convs))}
	for i, c := range convs {
		resp.Conversations[i] = toConversationResponse(c)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conv, err := s.uc.Conversation.Get(ctx, requestScope(r), conversationIDParam(r))
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) renameConversationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req titleRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	conv, err := s.uc.Conversation.Rename(ctx, requestScope(r), conversationIDParam(r), req.Title)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.uc.Conversation.Delete(ctx, requestScope(r), conversationIDParam(r)); err != nil {
		handleError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	after, err := queryInt(r, "after")
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	msgs, err := s.uc.Conversation.ListMessages(ctx, requestScope(r), conversationIDParam(r), model.SequenceKey(after), int(limit))
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := messageListResponse{Messages: make([]messageResponse, len(msgs))}
	for i, m := range msgs {
		resp.Messages[i] = toMessageResponse(m)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) submitTurnHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitTurnRequest
	if err := decodeJSON(w, r, s.maxBodySize, &req); err != nil {
		handleError(ctx, w, err)
		return
	}

	result, err := s.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
		Scope:            requestScope(r),
		ConversationID:   conversationIDParam(r),
		Text:             req.Message,
		IdempotencyToken: req.IdempotencyToken,
		K:                req.K,
		OwnerOnly:        req.OwnerOnly,
		BestEffort:       req.BestEffort,
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(ctx, w, status, submitTurnResponse{
		AssistantText:      result.AssistantMessage.Text,
		References:         toReferenceResponses(result.AssistantMessage.References),
		UserMessageID:      string(result.UserMessage.ID),
		AssistantMessageID: string(result.AssistantMessage.ID),
		UserSequence:       int64(result.UserMessage.Sequence),
		AssistantSequence:  int64(result.AssistantMessage.Sequence),
		Context:            toRankedResultResponses(result.Context),
		State:              string(result.State),
		Replayed:           result.Replayed,
		Degraded:           result.Degraded,
	})
}

// queryInt parses an optional integer query parameter. Absent means zero.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(model.ErrInvalidArgument, "invalid query parameter",
			goerr.V("name", name),
			goerr.V("value", raw))
	}
	return v, nil
}
