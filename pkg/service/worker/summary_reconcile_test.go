package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
	"github.com/secmon-lab/kotodama/pkg/repository/memory"
	"github.com/secmon-lab/kotodama/pkg/service/worker"
)

func appendTurn(t *testing.T, repo *memory.Memory, conv *model.Conversation, n int) {
	t.Helper()
	_, err := repo.Conversation().AppendMessages(context.Background(), conv.OwnerID, conv.ID, []*model.Message{
		{ID: model.MessageID(fmt.Sprintf("u-%d", n)), Sender: types.SenderUser, Text: fmt.Sprintf("question %d", n)},
		{ID: model.MessageID(fmt.Sprintf("a-%d", n)), Sender: types.SenderAssistant, Text: fmt.Sprintf("answer %d", n)},
	})
	gt.NoError(t, err).Required()
}

func TestSummaryReconcileWorker_Reconcile(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	stale, err := repo.Conversation().Create(ctx, &model.Conversation{OwnerID: "alice", TenantID: "t1"})
	gt.NoError(t, err).Required()
	appendTurn(t, repo, stale, 1)
	appendTurn(t, repo, stale, 2)

	fresh, err := repo.Conversation().Create(ctx, &model.Conversation{OwnerID: "bob", TenantID: "t1"})
	gt.NoError(t, err).Required()
	appendTurn(t, repo, fresh, 1)
	gt.NoError(t, repo.Conversation().UpdateSummary(ctx, "bob", fresh.ID, model.Summary{
		Preview: "answer 1", Sequence: 2, UpdatedAt: time.Now(),
	})).Required()

	w := worker.NewSummaryReconcileWorker(repo.Conversation(), time.Minute, 10)
	repaired, err := w.Reconcile(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, repaired).Equal(1)

	got, err := repo.Conversation().Get(ctx, "alice", stale.ID)
	gt.NoError(t, err).Required()
	gt.Bool(t, got.SummaryStale).False()
	gt.Value(t, got.SummarySequence).Equal(model.SequenceKey(4))
	gt.Value(t, got.LastMessagePreview).Equal("answer 2")

	remaining, err := repo.Conversation().ListStale(ctx, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, remaining).Length(0)

	repaired, err = w.Reconcile(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, repaired).Equal(0)
}

func TestSummaryReconcileWorker_StartStop(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	conv, err := repo.Conversation().Create(ctx, &model.Conversation{OwnerID: "alice", TenantID: "t1"})
	gt.NoError(t, err).Required()
	appendTurn(t, repo, conv, 1)

	w := worker.NewSummaryReconcileWorker(repo.Conversation(), 10*time.Millisecond, 10)
	gt.NoError(t, w.Start(ctx)).Required()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.Conversation().Get(ctx, "alice", conv.ID)
		gt.NoError(t, err).Required()
		if !got.SummaryStale {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()

	got, err := repo.Conversation().Get(ctx, "alice", conv.ID)
	gt.NoError(t, err).Required()
	gt.Bool(t, got.SummaryStale).False()
}

func TestSummaryReconcileWorker_InvalidInterval(t *testing.T) {
	w := worker.NewSummaryReconcileWorker(memory.New().Conversation(), 0, 10)
	gt.Error(t, w.Start(context.Background()))
}
