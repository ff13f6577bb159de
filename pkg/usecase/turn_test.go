package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
	"github.com/secmon-lab/kotodama/pkg/repository/memory"
	"github.com/secmon-lab/kotodama/pkg/usecase"
)

type turnFixture struct {
	repo      *memory.Memory
	uc        *usecase.UseCases
	embedder  *mockEmbedder
	generator *mockGenerator
	conv      *model.Conversation
	scope     model.Scope
}

func newTurnFixture(t *testing.T, policy *config.Policy) *turnFixture {
	t.Helper()
	ctx := context.Background()

	f := &turnFixture{
		repo:      memory.New(memory.WithEmbeddingDimension(testDimension)),
		embedder:  newMockEmbedder(),
		generator: &mockGenerator{},
		scope:     model.Scope{TenantID: "t1", OwnerID: "alice"},
	}
	f.uc = usecase.New(f.repo,
		usecase.WithPolicy(policy),
		usecase.WithEmbedder(f.embedder),
		usecase.WithGenerator(f.generator))

	_, err := f.uc.Document.IndexDocument(ctx, f.scope, usecase.DocumentInput{
		ID:    "refunds",
		Title: "Refunds",
		Text:  "refunds are issued within five business days",
	})
	gt.NoError(t, err).Required()

	f.conv, err = f.uc.Conversation.Create(ctx, f.scope, "support")
	gt.NoError(t, err).Required()
	return f
}

func (f *turnFixture) messages(t *testing.T) []*model.Message {
	t.Helper()
	msgs, err := f.uc.Conversation.ListMessages(context.Background(), f.scope, f.conv.ID, 0, 500)
	gt.NoError(t, err).Required()
	return msgs
}

func (f *turnFixture) conversation(t *testing.T) *model.Conversation {
	t.Helper()
	conv, err := f.uc.Conversation.Get(context.Background(), f.scope, f.conv.ID)
	gt.NoError(t, err).Required()
	return conv
}

func boolPtr(b bool) *bool {
	return &b
}

func TestSubmitTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("first turn stores the pair at keys 1 and 2", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())

		result, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:            f.scope,
			ConversationID:   f.conv.ID,
			Text:             "how long do refunds take?",
			IdempotencyToken: "tok-1",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.State).Equal(types.TurnStateSummaryUpdated)
		gt.Bool(t, result.Replayed).False()
		gt.Bool(t, result.Degraded).False()

		gt.Value(t, result.UserMessage.Sequence).Equal(model.SequenceKey(1))
		gt.Value(t, result.UserMessage.Sender).Equal(types.SenderUser)
		gt.Value(t, result.UserMessage.Text).Equal("how long do refunds take?")
		gt.Value(t, result.AssistantMessage.Sequence).Equal(model.SequenceKey(2))
		gt.Value(t, result.AssistantMessage.Sender).Equal(types.SenderAssistant)
		gt.Value(t, result.AssistantMessage.Text).Equal("answer to how long do refunds take?")

		gt.Array(t, result.Context).Length(1).Required()
		gt.Value(t, result.Context[0].DocumentID).Equal(model.DocumentID("refunds"))
		gt.Array(t, result.AssistantMessage.References).Length(1).Required()
		gt.Value(t, result.AssistantMessage.References[0].DocumentID).Equal(model.DocumentID("refunds"))

		conv := f.conversation(t)
		gt.Value(t, conv.LastSequence).Equal(model.SequenceKey(2))
		gt.Value(t, conv.SummarySequence).Equal(model.SequenceKey(2))
		gt.Bool(t, conv.SummaryStale).False()
		gt.Value(t, conv.LastMessagePreview).Equal("answer to how long do refunds take?")

		gt.Array(t, f.messages(t)).Length(2)
	})

	t.Run("resubmitting a completed turn replays it", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		req := usecase.TurnRequest{
			Scope:            f.scope,
			ConversationID:   f.conv.ID,
			Text:             "refunds?",
			IdempotencyToken: "tok-replay",
		}

		first, err := f.uc.Turn.SubmitTurn(ctx, req)
		gt.NoError(t, err).Required()
		second, err := f.uc.Turn.SubmitTurn(ctx, req)
		gt.NoError(t, err).Required()

		gt.Bool(t, second.Replayed).True()
		gt.Value(t, second.UserMessage.ID).Equal(first.UserMessage.ID)
		gt.Value(t, second.AssistantMessage.ID).Equal(first.AssistantMessage.ID)
		gt.Value(t, second.AssistantMessage.Sequence).Equal(model.SequenceKey(2))
		gt.Value(t, f.generator.calls.Load()).Equal(int64(1))
		gt.Array(t, f.messages(t)).Length(2)
	})

	t.Run("empty token makes every submission a new turn", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		req := usecase.TurnRequest{Scope: f.scope, ConversationID: f.conv.ID, Text: "again"}

		_, err := f.uc.Turn.SubmitTurn(ctx, req)
		gt.NoError(t, err).Required()
		_, err = f.uc.Turn.SubmitTurn(ctx, req)
		gt.NoError(t, err).Required()

		gt.Array(t, f.messages(t)).Length(4)
	})

	t.Run("generation failure keeps the user message and a retry completes the turn", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		f.generator.generateFn = func(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
			return nil, goerr.Wrap(model.ErrGenerationFailed, "model overloaded", goerr.T(model.TagTransient))
		}
		req := usecase.TurnRequest{
			Scope:            f.scope,
			ConversationID:   f.conv.ID,
			Text:             "refunds?",
			IdempotencyToken: "tok-gen",
		}

		_, err := f.uc.Turn.SubmitTurn(ctx, req)
		gt.Error(t, err).Is(model.ErrGenerationFailed)

		var turnErr *model.TurnError
		gt.B(t, errors.As(err, &turnErr)).True()
		gt.Bool(t, turnErr.UserMessageSaved).True()
		gt.Value(t, turnErr.Stage).Equal(types.TurnStateUserMsgPersisted)
		gt.Value(t, turnErr.UserMessageID).Equal(model.DeriveMessageID(f.conv.ID, "tok-gen", types.SenderUser))
		gt.Value(t, f.generator.calls.Load()).Equal(int64(2))

		msgs := f.messages(t)
		gt.Array(t, msgs).Length(1).Required()
		gt.Value(t, msgs[0].ID).Equal(turnErr.UserMessageID)
		gt.Value(t, msgs[0].Sequence).Equal(model.SequenceKey(1))

		f.generator.generateFn = nil
		req.Text = "different text is ignored"
		result, err := f.uc.Turn.SubmitTurn(ctx, req)
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Replayed).False()
		gt.Value(t, result.UserMessage.Sequence).Equal(model.SequenceKey(1))
		gt.Value(t, result.AssistantMessage.Sequence).Equal(model.SequenceKey(2))
		gt.Value(t, result.AssistantMessage.Text).Equal("answer to refunds?")
		gt.Array(t, f.messages(t)).Length(2)
	})

	t.Run("non transient generation failure is not retried", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		f.generator.generateFn = func(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
			return nil, errInjected
		}

		_, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.Error(t, err).Is(model.ErrGenerationFailed)
		gt.Value(t, f.generator.calls.Load()).Equal(int64(1))
	})

	t.Run("retrieval failure aborts before writing", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		f.embedder.embedFn = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errInjected
		}

		_, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
			BestEffort:     boolPtr(false),
		})
		gt.Error(t, err).Is(model.ErrRetrievalFailed)

		var turnErr *model.TurnError
		gt.B(t, errors.As(err, &turnErr)).False()
		gt.Value(t, f.generator.calls.Load()).Equal(int64(0))
		gt.Array(t, f.messages(t)).Length(0)
		gt.Value(t, f.conversation(t).LastSequence).Equal(model.SequenceKey(0))
	})

	t.Run("best effort answers without context", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		f.embedder.embedFn = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errInjected
		}

		var seen []*model.RankedResult
		f.generator.generateFn = func(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
			seen = passages
			return &model.Generation{Text: "general answer"}, nil
		}

		result, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
			BestEffort:     boolPtr(true),
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Degraded).True()
		gt.Array(t, result.Context).Length(0)
		gt.Array(t, seen).Length(0)
		gt.Value(t, result.AssistantMessage.Text).Equal("general answer")
		gt.Array(t, f.messages(t)).Length(2)
	})

	t.Run("best effort follows the policy default", func(t *testing.T) {
		policy := newTestPolicy()
		policy.Turn.BestEffortDefault = true
		f := newTurnFixture(t, policy)
		f.embedder.embedFn = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errInjected
		}

		result, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Degraded).True()
	})

	t.Run("invalid retrieval parameters are caller errors even with best effort", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())

		_, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
			K:              1000,
			BestEffort:     boolPtr(true),
		})
		gt.Error(t, err).Is(model.ErrInvalidArgument)
		gt.Array(t, f.messages(t)).Length(0)
	})

	t.Run("invalid requests", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())

		_, err := f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope: f.scope, ConversationID: f.conv.ID, Text: "  ",
		})
		gt.Error(t, err).Is(model.ErrInvalidArgument)

		_, err = f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope: model.Scope{OwnerID: "alice"}, ConversationID: f.conv.ID, Text: "hi",
		})
		gt.Error(t, err).Is(model.ErrInvalidArgument)

		_, err = f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope: f.scope, ConversationID: "missing", Text: "hi",
		})
		gt.Error(t, err).Is(model.ErrNotFound)

		_, err = f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope: model.Scope{TenantID: "t2", OwnerID: "alice"}, ConversationID: f.conv.ID, Text: "hi",
		})
		gt.Error(t, err).Is(model.ErrNotFound)

		gt.Value(t, f.generator.calls.Load()).Equal(int64(0))
	})

	t.Run("missing generator is not configured", func(t *testing.T) {
		repo := memory.New(memory.WithEmbeddingDimension(testDimension))
		uc := usecase.New(repo, usecase.WithPolicy(newTestPolicy()), usecase.WithEmbedder(newMockEmbedder()))
		scope := model.Scope{TenantID: "t1", OwnerID: "alice"}
		conv, err := uc.Conversation.Create(ctx, scope, "")
		gt.NoError(t, err).Required()

		_, err = uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{Scope: scope, ConversationID: conv.ID, Text: "hi"})
		gt.Error(t, err).Is(usecase.ErrNotConfigured)
	})

	t.Run("concurrent turns never interleave", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())

		const turns = 8
		var wg sync.WaitGroup
		errs := make([]error, turns)
		for i := range turns {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.uc.Turn.SubmitTurn(ctx, usecase.TurnRequest{
					Scope:          f.scope,
					ConversationID: f.conv.ID,
					Text:           "refunds?",
				})
			}()
		}
		wg.Wait()
		for _, err := range errs {
			gt.NoError(t, err)
		}

		msgs := f.messages(t)
		gt.Array(t, msgs).Length(turns * 2).Required()
		for i := 0; i < len(msgs); i += 2 {
			user, assistant := msgs[i], msgs[i+1]
			gt.Value(t, user.Sequence).Equal(model.SequenceKey(i + 1))
			gt.Value(t, assistant.Sequence).Equal(model.SequenceKey(i + 2))
			gt.Value(t, user.Sender).Equal(types.SenderUser)
			gt.Value(t, assistant.Sender).Equal(types.SenderAssistant)
			gt.Value(t, assistant.IdempotencyToken).Equal(user.IdempotencyToken)
		}
		gt.Value(t, f.conversation(t).LastSequence).Equal(model.SequenceKey(turns * 2))
	})

	t.Run("a canceled request still completes the turn", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		result, err := f.uc.Turn.SubmitTurn(canceled, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.State).Equal(types.TurnStateSummaryUpdated)
		gt.Array(t, f.messages(t)).Length(2)
	})
}

func TestSubmitTurnContention(t *testing.T) {
	ctx := context.Background()

	newFlakyTurn := func(t *testing.T, flaky *flakyConversationRepo, f *turnFixture) *usecase.TurnUseCase {
		t.Helper()
		flaky.ConversationRepository = f.repo.Conversation()
		return usecase.NewTurnUseCase(flaky, f.uc.Retriever, f.generator, newTestPolicy())
	}

	t.Run("conflicts within the budget are absorbed", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		flaky := &flakyConversationRepo{appendConflicts: 2}
		turn := newFlakyTurn(t, flaky, f)

		result, err := turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.AssistantMessage.Sequence).Equal(model.SequenceKey(2))
		gt.Value(t, flaky.AppendCalls()).Equal(3)
	})

	t.Run("persistent conflicts report a busy conversation", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		flaky := &flakyConversationRepo{appendConflicts: -1}
		turn := newFlakyTurn(t, flaky, f)

		_, err := turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.Error(t, err).Is(model.ErrConversationBusy)
		gt.Value(t, flaky.AppendCalls()).Equal(newTestPolicy().Turn.AppendAttempts)
		gt.Array(t, f.messages(t)).Length(0)
	})

	t.Run("summary failure leaves a completed turn with a stale summary", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		flaky := &flakyConversationRepo{updateSummaryErr: errInjected}
		turn := newFlakyTurn(t, flaky, f)

		result, err := turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.State).Equal(types.TurnStateAssistantMsgPersisted)
		gt.Array(t, f.messages(t)).Length(2)

		conv := f.conversation(t)
		gt.Value(t, conv.LastSequence).Equal(model.SequenceKey(2))
		gt.Bool(t, conv.SummaryStale).True()

		stale, err := f.repo.Conversation().ListStale(ctx, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, stale).Length(1)
	})

	t.Run("summary repair runs in the background", func(t *testing.T) {
		f := newTurnFixture(t, newTestPolicy())
		flaky := &flakyConversationRepo{updateSummaryErr: goerr.New("flaky", goerr.T(model.TagTransient))}
		turn := newFlakyTurn(t, flaky, f)

		_, err := turn.SubmitTurn(ctx, usecase.TurnRequest{
			Scope:          f.scope,
			ConversationID: f.conv.ID,
			Text:           "refunds?",
		})
		gt.NoError(t, err).Required()

		flaky.mu.Lock()
		flaky.updateSummaryErr = nil
		flaky.mu.Unlock()

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if !f.conversation(t).SummaryStale {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		gt.Bool(t, f.conversation(t).SummaryStale).False()
	})
}
