package usecase

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/retry"
	"golang.org/x/sync/errgroup"
)

// DocumentInput is a passage to index. An empty ID gets a generated one.
type DocumentInput struct {
	ID          model.DocumentID
	Title       string
	Description string
	Tags        []string
	Text        string
}

type DocumentUseCase struct {
	index       interfaces.VectorIndex
	embedder    interfaces.EmbeddingProvider
	invalidator cacheInvalidator
	embedRetry  retry.Policy
	storeRetry  retry.Policy
	concurrency int
}

func NewDocumentUseCase(index interfaces.VectorIndex, embedder interfaces.EmbeddingProvider, policy *config.Policy, invalidator cacheInvalidator) *DocumentUseCase {
	concurrency := policy.IndexConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &DocumentUseCase{
		index:       index,
		embedder:    embedder,
		invalidator: invalidator,
		embedRetry:  toRetryPolicy(policy.Embedding),
		storeRetry:  toRetryPolicy(policy.VectorQuery),
		concurrency: concurrency,
	}
}

// embeddingText is what gets embedded for a document
func embeddingText(in DocumentInput) string {
	if in.Title == "" {
		return in.Text
	}
	return in.Title + "\n" + in.Text
}

// IndexDocument embeds the document and upserts it into the index of the scope's tenant,
// owned by the scope's owner.
func (uc *DocumentUseCase) IndexDocument(ctx context.Context, scope model.Scope, in DocumentInput) (*model.Document, error) {
	doc, err := uc.indexDocument(ctx, scope, in)
	if err != nil {
		return nil, err
	}
	uc.invalidate(scope.TenantID)
	return doc, nil
}

func (uc *DocumentUseCase) indexDocument(ctx context.Context, scope model.Scope, in DocumentInput) (*model.Document, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "document text is required", goerr.V(model.DocumentIDKey, in.ID))
	}
	if uc.embedder == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "embedding provider is not configured")
	}

	id := in.ID
	if id == "" {
		id = model.NewDocumentID()
	}

	var embedding []float32
	err := retry.Do(ctx, uc.embedRetry, func(ctx context.Context) error {
		v, err := uc.embedder.Embed(ctx, embeddingText(in))
		if err != nil {
			return err
		}
		embedding = v
		return nil
	})
	if err != nil {
		return nil, asDependencyError(err, model.ErrEmbeddingUnavailable, "failed to embed document")
	}

	doc := &model.Document{
		ID:          id,
		TenantID:    scope.TenantID,
		OwnerID:     scope.OwnerID,
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
		Text:        in.Text,
		Embedding:   embedding,
	}

	var stored *model.Document
	err = retry.Do(ctx, uc.storeRetry, func(ctx context.Context) error {
		d, err := uc.index.Upsert(ctx, doc)
		if err != nil {
			return err
		}
		stored = d
		return nil
	})
	if err != nil {
		return nil, asDependencyError(err, model.ErrIndexUnavailable, "failed to upsert document")
	}

	logging.From(ctx).Info("indexed document",
		"document_id", stored.ID,
		"tenant_id", stored.TenantID)
	return stored, nil
}

// IndexDocuments indexes a batch concurrently. The first failure cancels the remaining work;
// documents indexed before it stay indexed. Results keep the input order.
func (uc *DocumentUseCase) IndexDocuments(ctx context.Context, scope model.Scope, inputs []DocumentInput) ([]*model.Document, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	results := make([]*model.Document, len(inputs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.concurrency)

	for i, in := range inputs {
		eg.Go(func() error {
			doc, err := uc.indexDocument(egCtx, scope, in)
			if err != nil {
				return goerr.Wrap(err, "failed to index document in batch", goerr.V("index", i))
			}
			results[i] = doc
			return nil
		})
	}

	err := eg.Wait()
	uc.invalidate(scope.TenantID)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (uc *DocumentUseCase) GetDocument(ctx context.Context, scope model.Scope, id model.DocumentID) (*model.Document, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return uc.index.Get(ctx, scope.TenantID, id)
}

func (uc *DocumentUseCase) DeleteDocument(ctx context.Context, scope model.Scope, id model.DocumentID) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if id == "" {
		return goerr.Wrap(model.ErrInvalidArgument, "document ID is required")
	}

	if err := uc.index.Delete(ctx, scope.TenantID, id); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V(model.DocumentIDKey, id))
	}
	uc.invalidate(scope.TenantID)
	return nil
}

func (uc *DocumentUseCase) invalidate(tenantID string) {
	if uc.invalidator != nil {
		uc.invalidator.Invalidate(tenantID)
	}
}
