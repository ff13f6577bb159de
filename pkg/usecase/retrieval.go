package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/retry"
)

// RetrievalUseCase turns query text into ranked passages from the vector index
type RetrievalUseCase struct {
	index      interfaces.VectorIndex
	embedder   interfaces.EmbeddingProvider
	policy     config.RetrievalPolicy
	embedRetry retry.Policy
	queryRetry retry.Policy
}

var _ interfaces.Retriever = &RetrievalUseCase{}

func NewRetrievalUseCase(index interfaces.VectorIndex, embedder interfaces.EmbeddingProvider, policy *config.Policy) *RetrievalUseCase {
	return &RetrievalUseCase{
		index:      index,
		embedder:   embedder,
		policy:     policy.Retrieval,
		embedRetry: toRetryPolicy(policy.Embedding),
		queryRetry: toRetryPolicy(policy.VectorQuery),
	}
}

// preparedQuery is a validated query with defaults applied
type preparedQuery struct {
	text   string
	k      int
	filter model.QueryFilter
}

// prepare validates q and resolves K and the effective filter. It has no side effects.
func (uc *RetrievalUseCase) prepare(q interfaces.RetrievalQuery) (*preparedQuery, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "query text is required")
	}
	if q.Scope.TenantID == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "tenant ID is required")
	}

	k := q.K
	if k == 0 {
		k = uc.policy.DefaultK
	}
	if k < 0 || k > uc.policy.MaxK {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "k is out of range",
			goerr.V(KKey, q.K),
			goerr.V("max_k", uc.policy.MaxK))
	}

	filter := model.QueryFilter{TenantID: q.Scope.TenantID}
	if q.OwnerOnly || uc.policy.RequireOwnerScope {
		if q.Scope.OwnerID == "" {
			return nil, goerr.Wrap(model.ErrInvalidArgument, "owner ID is required for owner scoped retrieval",
				goerr.V(model.TenantIDKey, q.Scope.TenantID))
		}
		filter.OwnerID = q.Scope.OwnerID
	}

	return &preparedQuery{text: text, k: k, filter: filter}, nil
}

// Retrieve embeds the query text and returns up to K passages of the scope, best first.
// A sparse corpus yields fewer results; nothing is fabricated.
func (uc *RetrievalUseCase) Retrieve(ctx context.Context, q interfaces.RetrievalQuery) ([]*model.RankedResult, error) {
	pq, err := uc.prepare(q)
	if err != nil {
		return nil, err
	}
	return uc.retrieve(ctx, pq)
}

func (uc *RetrievalUseCase) retrieve(ctx context.Context, pq *preparedQuery) ([]*model.RankedResult, error) {
	if uc.embedder == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "embedding provider is not configured")
	}

	var vector []float32
	err := retry.Do(ctx, uc.embedRetry, func(ctx context.Context) error {
		v, err := uc.embedder.Embed(ctx, pq.text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, asDependencyError(err, model.ErrEmbeddingUnavailable, "failed to embed query")
	}

	var hits []*model.SearchHit
	err = retry.Do(ctx, uc.queryRetry, func(ctx context.Context) error {
		h, err := uc.index.Query(ctx, vector, pq.k, pq.filter)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		return nil, asDependencyError(err, model.ErrIndexUnavailable, "failed to query vector index")
	}

	results := make([]*model.RankedResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, model.NewRankedResult(hit))
	}
	model.SortRankedResults(results)

	logging.From(ctx).Debug("retrieved context",
		"tenant_id", pq.filter.TenantID,
		"owner_filter", pq.filter.OwnerID != "",
		"k", pq.k,
		"results", len(results))

	return results, nil
}

// asDependencyError keeps caller errors as they are and maps every other failure of a
// dependency to sentinel.
func asDependencyError(err error, sentinel error, msg string) error {
	switch {
	case errors.Is(err, sentinel),
		errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrSchemaViolation):
		return goerr.Wrap(err, msg)
	default:
		return goerr.Wrap(sentinel, msg, goerr.V("cause", err.Error()))
	}
}
