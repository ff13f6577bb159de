package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultEmbeddingDimension is the dimension of the embedding vector when none is configured.
// Gemini text embedding models produce 768 dimensions.
const DefaultEmbeddingDimension = 768

// DocumentID is a UUID-based identifier for Document unless the caller supplies one
type DocumentID string

// NewDocumentID generates a new UUID v4 DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

// Document is an indexed passage together with its embedding and scoping metadata
type Document struct {
	ID          DocumentID
	TenantID    string
	OwnerID     string
	Title       string
	Description string
	Tags        []string
	Text        string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks identifiers and the embedding dimension against the index dimension.
func (d *Document) Validate(dimension int) error {
	if d.ID == "" {
		return goerr.Wrap(ErrInvalidArgument, "document ID is required")
	}
	if d.TenantID == "" {
		return goerr.Wrap(ErrInvalidArgument, "document tenant ID is required", goerr.V(DocumentIDKey, d.ID))
	}
	if len(d.Embedding) != dimension {
		return goerr.Wrap(ErrSchemaViolation, "embedding dimension mismatch",
			goerr.V(DocumentIDKey, d.ID),
			goerr.V(DimensionKey, dimension),
			goerr.V("actual", len(d.Embedding)))
	}
	return nil
}

// Copy returns a deep copy of the document
func (d *Document) Copy() *Document {
	copied := *d
	if d.Tags != nil {
		copied.Tags = make([]string, len(d.Tags))
		copy(copied.Tags, d.Tags)
	}
	if d.Embedding != nil {
		copied.Embedding = make([]float32, len(d.Embedding))
		copy(copied.Embedding, d.Embedding)
	}
	return &copied
}

// NormalizeTags deduplicates and sorts tags, dropping empty ones
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// QueryFilter restricts a vector query. TenantID is mandatory.
type QueryFilter struct {
	TenantID string
	OwnerID  string
}

// Validate rejects unscoped queries
func (f QueryFilter) Validate() error {
	if f.TenantID == "" {
		return goerr.Wrap(ErrInvalidArgument, "tenant filter is required for vector query")
	}
	return nil
}

// Matches reports whether the document is inside the filter
func (f QueryFilter) Matches(d *Document) bool {
	if d.TenantID != f.TenantID {
		return false
	}
	if f.OwnerID != "" && d.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// SearchHit is a document returned by the vector index with its L2 distance to the query
type SearchHit struct {
	Document *Document
	Distance float64
}

// SortSearchHits orders by distance asc, then most recent UpdatedAt, then ID asc. Indexes apply
// it before cutting to k so ties at the boundary keep the newest document.
func SortSearchHits(hits []*SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.Document.UpdatedAt.Equal(b.Document.UpdatedAt) {
			return a.Document.UpdatedAt.After(b.Document.UpdatedAt)
		}
		return a.Document.ID < b.Document.ID
	})
}
