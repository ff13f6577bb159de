package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// SummaryReconcileWorker rebuilds conversation summaries that lag behind their message log.
// A turn whose summary write failed leaves the conversation stale; this loop converges it.
//
// Architecture assumptions:
// - Summary writes never regress, so running alongside live turns is safe
// - Multiple instances may run; they only duplicate work
type SummaryReconcileWorker struct {
	repo      interfaces.ConversationRepository
	interval  time.Duration
	batchSize int
	now       func() time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSummaryReconcileWorker creates a worker that scans up to batchSize stale conversations per interval
func NewSummaryReconcileWorker(repo interfaces.ConversationRepository, interval time.Duration, batchSize int) *SummaryReconcileWorker {
	if batchSize < 1 {
		batchSize = 100
	}
	return &SummaryReconcileWorker{
		repo:      repo,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background loop. It does not block.
func (w *SummaryReconcileWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return goerr.New("reconcile interval must be positive", goerr.V("interval", w.interval.String()))
	}

	logging.Default().Info("Summary reconcile worker starting",
		"interval", w.interval.String(),
		"batch_size", w.batchSize)

	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *SummaryReconcileWorker) Stop() {
	logging.Default().Info("Summary reconcile worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Summary reconcile worker stopped")
}

func (w *SummaryReconcileWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Reconcile(ctx); err != nil {
				logging.Default().Error("Summary reconcile failed (will retry next interval)",
					"error", err.Error())
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Summary reconcile worker context cancelled")
			return
		}
	}
}

// Reconcile runs one pass and returns how many conversations were repaired. A failure on one
// conversation is logged and does not stop the pass.
func (w *SummaryReconcileWorker) Reconcile(ctx context.Context) (int, error) {
	stale, err := w.repo.ListStale(ctx, w.batchSize)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list stale conversations")
	}

	repaired := 0
	for _, conv := range stale {
		if err := w.repair(ctx, conv); err != nil {
			logging.Default().Warn("Failed to repair conversation summary",
				"conversation_id", conv.ID,
				"error", err.Error())
			continue
		}
		repaired++
	}

	if len(stale) > 0 {
		logging.Default().Info("Summary reconcile completed",
			"stale", len(stale),
			"repaired", repaired)
	}
	return repaired, nil
}

func (w *SummaryReconcileWorker) repair(ctx context.Context, conv *model.Conversation) error {
	if conv.LastSequence < 1 {
		return nil
	}

	msgs, err := w.repo.ListMessages(ctx, conv.OwnerID, conv.ID, conv.LastSequence-1, 1)
	if err != nil {
		return goerr.Wrap(err, "failed to read last message", goerr.V(model.ConversationIDKey, conv.ID))
	}
	if len(msgs) == 0 {
		return goerr.New("last message not found",
			goerr.V(model.ConversationIDKey, conv.ID),
			goerr.V("last_sequence", conv.LastSequence))
	}

	summary := model.NewSummary(msgs[0], w.now().UTC())
	if err := w.repo.UpdateSummary(ctx, conv.OwnerID, conv.ID, summary); err != nil {
		return goerr.Wrap(err, "failed to update summary", goerr.V(model.ConversationIDKey, conv.ID))
	}
	return nil
}
