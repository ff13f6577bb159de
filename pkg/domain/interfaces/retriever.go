package interfaces

import (
	"context"

	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// RetrievalQuery is the input of one retrieval call
type RetrievalQuery struct {
	Text  string
	K     int
	Scope model.Scope

	// OwnerOnly narrows the tenant-scoped search to the scope owner's documents
	OwnerOnly bool
}

// Retriever turns query text into ranked context. Caches implement it too.
type Retriever interface {
	Retrieve(ctx context.Context, q RetrievalQuery) ([]*model.RankedResult, error)
}
