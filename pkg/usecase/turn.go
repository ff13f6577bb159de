package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
	"github.com/secmon-lab/kotodama/pkg/utils/async"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/retry"
)

// TurnRequest is one user message submitted to a conversation
type TurnRequest struct {
	Scope          model.Scope
	ConversationID model.ConversationID
	Text           string

	// IdempotencyToken identifies the turn across resubmissions. Empty means a fresh token.
	IdempotencyToken string

	K         int
	OwnerOnly bool

	// BestEffort overrides the policy default when set
	BestEffort *bool
}

// TurnResult is the outcome of a completed turn
type TurnResult struct {
	UserMessage      *model.Message
	AssistantMessage *model.Message
	Context          []*model.RankedResult
	State            types.TurnState

	// Replayed is true when the turn had already completed and nothing was written
	Replayed bool

	// Degraded is true when retrieval failed and the answer was generated without context
	Degraded bool
}

type TurnUseCase struct {
	repo        interfaces.ConversationRepository
	retriever   interfaces.Retriever
	generator   interfaces.GenerationProvider
	policy      config.TurnPolicy
	genRetry    retry.Policy
	storeRetry  retry.Policy
	appendRetry retry.Policy
	now         func() time.Time
}

func NewTurnUseCase(repo interfaces.ConversationRepository, retriever interfaces.Retriever, generator interfaces.GenerationProvider, policy *config.Policy) *TurnUseCase {
	appendRetry := toRetryPolicy(policy.Store)
	appendRetry.MaxAttempts = policy.Turn.AppendAttempts
	appendRetry.Retryable = func(err error) bool {
		return errors.Is(err, model.ErrSequenceConflict) || retry.IsTransient(err)
	}

	return &TurnUseCase{
		repo:        repo,
		retriever:   retriever,
		generator:   generator,
		policy:      policy.Turn,
		genRetry:    toRetryPolicy(policy.Generation),
		storeRetry:  toRetryPolicy(policy.Store),
		appendRetry: appendRetry,
		now:         time.Now,
	}
}

// SubmitTurn answers the message with retrieved context and appends the user and assistant
// messages to the conversation as one consecutive pair.
//
// Resubmitting with the same idempotency token returns the stored pair. When an earlier
// attempt stored only the user message, generation is retried for it. Failures after the
// user message was stored are returned as *model.TurnError with UserMessageSaved set.
//
// The turn is not aborted by cancellation of ctx once it has started; each external call is
// bounded by its own timeout instead.
func (uc *TurnUseCase) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "message text is required")
	}
	if uc.generator == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "generation provider is not configured")
	}

	ctx = context.WithoutCancel(ctx)
	logger := logging.From(ctx).With("conversation_id", req.ConversationID)

	conv, err := getOwnedConversation(ctx, uc.repo, req.Scope, req.ConversationID)
	if err != nil {
		return nil, err
	}

	token := req.IdempotencyToken
	if token == "" {
		token = uuid.NewString()
	}
	userID := model.DeriveMessageID(conv.ID, token, types.SenderUser)
	assistantID := model.DeriveMessageID(conv.ID, token, types.SenderAssistant)

	storedUser, err := uc.findMessage(ctx, req.Scope, conv.ID, userID)
	if err != nil {
		return nil, err
	}
	if storedUser != nil {
		storedAssistant, err := uc.findMessage(ctx, req.Scope, conv.ID, assistantID)
		if err != nil {
			return nil, err
		}
		if storedAssistant != nil {
			logger.Info("replayed completed turn", "user_message_id", userID)
			return &TurnResult{
				UserMessage:      storedUser,
				AssistantMessage: storedAssistant,
				State:            types.TurnStateSummaryUpdated,
				Replayed:         true,
			}, nil
		}
		// Generation retry for a stored user message: the stored text wins
		text = storedUser.Text
		logger.Info("retrying generation for stored user message", "user_message_id", userID)
	}

	state := types.TurnStateReceived
	if storedUser != nil {
		state = types.TurnStateUserMsgPersisted
	}
	fail := func(stage types.TurnState, err error) error {
		return &model.TurnError{
			Stage:            stage,
			UserMessageSaved: storedUser != nil,
			UserMessageID:    userID,
			Err:              err,
		}
	}

	bestEffort := uc.policy.BestEffortDefault
	if req.BestEffort != nil {
		bestEffort = *req.BestEffort
	}

	// Step: retrieve context
	degraded := false
	passages, err := uc.retriever.Retrieve(ctx, interfaces.RetrievalQuery{
		Text:      text,
		K:         req.K,
		Scope:     req.Scope,
		OwnerOnly: req.OwnerOnly,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidArgument) {
			return nil, err
		}
		if !bestEffort {
			wrapped := goerr.Wrap(model.ErrRetrievalFailed, "failed to retrieve context",
				goerr.V(model.ConversationIDKey, conv.ID),
				goerr.V("cause", err.Error()))
			if storedUser != nil {
				return nil, fail(state, wrapped)
			}
			return nil, wrapped
		}
		logger.Warn("continuing turn without context", "error", err.Error())
		degraded = true
		passages = []*model.RankedResult{}
	}
	if storedUser == nil {
		state = types.TurnStateContextRetrieved
	}

	// Step: generate
	var gen *model.Generation
	err = retry.Do(ctx, uc.genRetry, func(ctx context.Context) error {
		g, err := uc.generator.Generate(ctx, text, passages)
		if err != nil {
			return err
		}
		gen = g
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrGenerationFailed) {
			err = goerr.Wrap(model.ErrGenerationFailed, "failed to generate answer", goerr.V("cause", err.Error()))
		}

		if storedUser == nil {
			// Keep the user input so that a retry with the same token only regenerates
			userMsg := uc.newMessage(userID, types.SenderUser, text, token, nil)
			if _, perr := uc.append(ctx, req.Scope, conv.ID, []*model.Message{userMsg}); perr != nil {
				logger.Error("failed to persist user message after generation failure", "error", perr.Error())
				return nil, fail(state, err)
			}
			storedUser = userMsg
			state = types.TurnStateUserMsgPersisted
		}
		return nil, fail(state, err)
	}
	if storedUser == nil {
		state = types.TurnStateGenerated
	}

	// Step: persist the pair, or only the assistant message on a generation retry
	msgs := make([]*model.Message, 0, 2)
	if storedUser == nil {
		msgs = append(msgs, uc.newMessage(userID, types.SenderUser, text, token, nil))
	}
	msgs = append(msgs, uc.newMessage(assistantID, types.SenderAssistant, gen.Text, token, gen.References))

	stored, err := uc.append(ctx, req.Scope, conv.ID, msgs)
	if err != nil {
		return nil, fail(state, err)
	}

	result := &TurnResult{
		Context:  passages,
		Degraded: degraded,
		State:    types.TurnStateAssistantMsgPersisted,
	}
	if storedUser != nil {
		result.UserMessage = storedUser
		result.AssistantMessage = stored[0]
	} else {
		result.UserMessage = stored[0]
		result.AssistantMessage = stored[1]
	}

	// Step: summary, best effort
	summary := model.NewSummary(result.AssistantMessage, uc.now().UTC())
	err = retry.Do(ctx, uc.storeRetry, func(ctx context.Context) error {
		return uc.repo.UpdateSummary(ctx, req.Scope.OwnerID, conv.ID, summary)
	})
	if err != nil {
		logger.Warn("failed to update conversation summary, scheduling repair", "error", err.Error())
		uc.dispatchSummaryRepair(ctx, req.Scope.OwnerID, conv.ID, summary)
		return result, nil
	}

	result.State = types.TurnStateSummaryUpdated
	logger.Info("turn completed",
		"user_message_id", result.UserMessage.ID,
		"assistant_sequence", result.AssistantMessage.Sequence,
		"passages", len(passages),
		"degraded", degraded)
	return result, nil
}

func (uc *TurnUseCase) newMessage(id model.MessageID, sender types.Sender, text, token string, refs []model.Reference) *model.Message {
	return &model.Message{
		ID:               id,
		Sender:           sender,
		Text:             text,
		References:       refs,
		IdempotencyToken: token,
		Timestamp:        uc.now().UTC(),
	}
}

// findMessage returns nil without error when the message does not exist
func (uc *TurnUseCase) findMessage(ctx context.Context, scope model.Scope, convID model.ConversationID, id model.MessageID) (*model.Message, error) {
	var msg *model.Message
	err := retry.Do(ctx, uc.storeRetry, func(ctx context.Context) error {
		m, err := uc.repo.GetMessage(ctx, scope.OwnerID, convID, id)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to look up message", goerr.V(model.MessageIDKey, id))
	}
	return msg, nil
}

// append stores msgs with backoff on allocator contention. Running out of attempts on
// contention is reported as model.ErrConversationBusy.
func (uc *TurnUseCase) append(ctx context.Context, scope model.Scope, convID model.ConversationID, msgs []*model.Message) ([]*model.Message, error) {
	var stored []*model.Message
	err := retry.Do(ctx, uc.appendRetry, func(ctx context.Context) error {
		s, err := uc.repo.AppendMessages(ctx, scope.OwnerID, convID, msgs)
		if err != nil {
			return err
		}
		stored = s
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrSequenceConflict) {
			return nil, goerr.Wrap(model.ErrConversationBusy, "sequence allocation kept conflicting",
				goerr.V(model.ConversationIDKey, convID),
				goerr.V("attempts", uc.appendRetry.MaxAttempts))
		}
		return nil, goerr.Wrap(err, "failed to append messages", goerr.V(model.ConversationIDKey, convID))
	}
	return stored, nil
}

func (uc *TurnUseCase) dispatchSummaryRepair(ctx context.Context, ownerID string, convID model.ConversationID, summary model.Summary) {
	policy := retry.DefaultPolicy()
	async.Dispatch(ctx, uc.policy.SummaryRepairTimeout, func(ctx context.Context) error {
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			return uc.repo.UpdateSummary(ctx, ownerID, convID, summary)
		})
		if err != nil {
			return goerr.Wrap(err, "failed to repair conversation summary", goerr.V(model.ConversationIDKey, convID))
		}
		logging.From(ctx).Info("repaired conversation summary", "conversation_id", convID)
		return nil
	})
}
