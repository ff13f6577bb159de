package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// documentKey is a composite key for documents (tenantID + documentID)
type documentKey struct {
	tenantID string
	id       model.DocumentID
}

type documentRepository struct {
	mu        sync.RWMutex
	dimension int
	created   bool
	documents map[documentKey]*model.Document
}

func newDocumentRepository(dimension int) *documentRepository {
	return &documentRepository{
		dimension: dimension,
		created:   true,
		documents: make(map[documentKey]*model.Document),
	}
}

func (r *documentRepository) Dimension() int {
	return r.dimension
}

func (r *documentRepository) Upsert(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if err := doc.Validate(r.dimension); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.created {
		return nil, goerr.Wrap(model.ErrIndexUnavailable, "index does not exist")
	}

	key := documentKey{tenantID: doc.TenantID, id: doc.ID}
	now := time.Now().UTC()
	stored := doc.Copy()
	stored.Tags = model.NormalizeTags(doc.Tags)
	stored.CreatedAt = now
	if existing, ok := r.documents[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now

	r.documents[key] = stored
	return stored.Copy(), nil
}

func (r *documentRepository) Query(ctx context.Context, vector []float32, k int, filter model.QueryFilter) ([]*model.SearchHit, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(vector) != r.dimension {
		return nil, goerr.Wrap(model.ErrSchemaViolation, "query vector dimension mismatch",
			goerr.V(model.DimensionKey, r.dimension),
			goerr.V("actual", len(vector)))
	}
	if k <= 0 {
		return []*model.SearchHit{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.created {
		return nil, goerr.Wrap(model.ErrIndexUnavailable, "index does not exist")
	}

	hits := make([]*model.SearchHit, 0)
	for _, d := range r.documents {
		if !filter.Matches(d) {
			continue
		}
		hits = append(hits, &model.SearchHit{
			Document: d.Copy(),
			Distance: euclideanDistance(vector, d.Embedding),
		})
	}

	model.SortSearchHits(hits)

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (r *documentRepository) Get(ctx context.Context, tenantID string, id model.DocumentID) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.documents[documentKey{tenantID: tenantID, id: id}]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
	}
	return d.Copy(), nil
}

func (r *documentRepository) Delete(ctx context.Context, tenantID string, id model.DocumentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := documentKey{tenantID: tenantID, id: id}
	if _, ok := r.documents[key]; !ok {
		return goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
	}
	delete(r.documents, key)
	return nil
}

func (r *documentRepository) CreateIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = true
	return nil
}

// DeleteIndex drops the index and all records in it
func (r *documentRepository) DeleteIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = false
	r.documents = make(map[documentKey]*model.Document)
	return nil
}

func (r *documentRepository) Plan(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.created {
		return []string{}, nil
	}
	return []string{"create in-memory vector index"}, nil
}

func euclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
