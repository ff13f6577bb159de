package interfaces

import (
	"context"

	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// VectorIndex stores documents with embeddings and answers nearest-neighbor queries.
type VectorIndex interface {
	// Dimension returns the embedding dimension every record must have
	Dimension() int

	// Upsert inserts or replaces a document by ID. A wrong embedding dimension fails with
	// model.ErrSchemaViolation and leaves the index unchanged. CreatedAt is kept on replace.
	Upsert(ctx context.Context, doc *model.Document) (*model.Document, error)

	// Query returns up to k documents nearest to vector by L2 distance, restricted to filter.
	// Backend failures return model.ErrIndexUnavailable.
	Query(ctx context.Context, vector []float32, k int, filter model.QueryFilter) ([]*model.SearchHit, error)

	// Get retrieves a document of the tenant by ID
	Get(ctx context.Context, tenantID string, id model.DocumentID) (*model.Document, error)

	// Delete removes a document of the tenant by ID
	Delete(ctx context.Context, tenantID string, id model.DocumentID) error
}

// IndexAdmin performs bootstrap-time schema operations on the vector index.
type IndexAdmin interface {
	// CreateIndex establishes the index schema. Creating an existing index is a no-op.
	CreateIndex(ctx context.Context) error

	// DeleteIndex removes the index schema
	DeleteIndex(ctx context.Context) error

	// Plan describes the steps CreateIndex would apply, without applying them
	Plan(ctx context.Context) ([]string, error)
}
