package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/service/llm"
)

const testDimension = 32

// newTestPolicy returns the default policy with short backoff for tests
func newTestPolicy() *config.Policy {
	p := config.DefaultPolicy()
	for _, cp := range []*config.CallPolicy{&p.Embedding, &p.VectorQuery, &p.Generation, &p.Store} {
		cp.Timeout = time.Second
		cp.InitialInterval = time.Millisecond
		cp.MaxInterval = 5 * time.Millisecond
	}
	p.Turn.SummaryRepairTimeout = time.Second
	return p
}

// mockEmbedder delegates to a hash embedder unless embedFn is set
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   atomic.Int64
	hash    *llm.HashEmbedder
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{hash: llm.NewHashEmbedder(testDimension)}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return m.hash.Embed(ctx, text)
}

// mockGenerator answers with the query unless generateFn is set
type mockGenerator struct {
	generateFn func(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error)
	calls      atomic.Int64
}

func (m *mockGenerator) Generate(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
	m.calls.Add(1)
	if m.generateFn != nil {
		return m.generateFn(ctx, query, passages)
	}
	refs := make([]model.Reference, 0, len(passages))
	for _, p := range passages {
		refs = append(refs, model.Reference{DocumentID: p.DocumentID})
	}
	return &model.Generation{Text: "answer to " + query, References: refs}, nil
}

// flakyConversationRepo wraps a repository and injects allocator conflicts and summary failures
type flakyConversationRepo struct {
	interfaces.ConversationRepository

	mu               sync.Mutex
	appendConflicts  int
	appendCalls      int
	updateSummaryErr error
	appendDelay      time.Duration
}

func (r *flakyConversationRepo) AppendMessages(ctx context.Context, ownerID string, id model.ConversationID, msgs []*model.Message) ([]*model.Message, error) {
	r.mu.Lock()
	r.appendCalls++
	if r.appendConflicts != 0 {
		if r.appendConflicts > 0 {
			r.appendConflicts--
		}
		r.mu.Unlock()
		return nil, goerr.Wrap(model.ErrSequenceConflict, "injected conflict", goerr.T(model.TagTransient))
	}
	delay := r.appendDelay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return r.ConversationRepository.AppendMessages(ctx, ownerID, id, msgs)
}

func (r *flakyConversationRepo) UpdateSummary(ctx context.Context, ownerID string, id model.ConversationID, summary model.Summary) error {
	r.mu.Lock()
	err := r.updateSummaryErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.ConversationRepository.UpdateSummary(ctx, ownerID, id, summary)
}

func (r *flakyConversationRepo) AppendCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendCalls
}

var errInjected = errors.New("injected failure")
