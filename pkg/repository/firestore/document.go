package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	documentsCollectionName = "documents"
	distanceField           = "Distance"

	// maxNearestLimit is the largest limit FindNearest accepts
	maxNearestLimit = 1000
)

// documentDoc is the Firestore document representation of model.Document.
// Embedding is stored as firestore.Vector32 so that FindNearest vector search works.
type documentDoc struct {
	ID          model.DocumentID   `firestore:"ID"`
	TenantID    string             `firestore:"TenantID"`
	OwnerID     string             `firestore:"OwnerID"`
	Title       string             `firestore:"Title"`
	Description string             `firestore:"Description"`
	Tags        []string           `firestore:"Tags"`
	Text        string             `firestore:"Text"`
	Embedding   firestore.Vector32 `firestore:"Embedding"`
	CreatedAt   time.Time          `firestore:"CreatedAt"`
	UpdatedAt   time.Time          `firestore:"UpdatedAt"`
}

func toDocumentDoc(d *model.Document) *documentDoc {
	return &documentDoc{
		ID:          d.ID,
		TenantID:    d.TenantID,
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.Tags,
		Text:        d.Text,
		Embedding:   firestore.Vector32(d.Embedding),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromDocumentDoc(d *documentDoc) *model.Document {
	doc := &model.Document{
		ID:          d.ID,
		TenantID:    d.TenantID,
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.Tags,
		Text:        d.Text,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if len(d.Embedding) > 0 {
		doc.Embedding = []float32(d.Embedding)
	}
	return doc
}

func snapshotToDocument(snap *firestore.DocumentSnapshot) (*model.Document, error) {
	var d documentDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return fromDocumentDoc(&d), nil
}

// documentNamespace scopes Firestore document IDs of indexed documents
var documentNamespace = uuid.MustParse("b6a4f0d2-3c1e-4e8a-8f5b-1a7d9c2e4b60")

// documentKey maps (tenantID, id) to a Firestore document ID. Different tenants may use the
// same document ID, and caller IDs may contain characters Firestore does not allow.
func documentKey(tenantID string, id model.DocumentID) string {
	return uuid.NewSHA1(documentNamespace, []byte(tenantID+"\x00"+string(id))).String()
}

type documentRepository struct {
	client           *firestore.Client
	collectionPrefix string
	dimension        int
}

func newDocumentRepository(client *firestore.Client, dimension int) *documentRepository {
	return &documentRepository{
		client:    client,
		dimension: dimension,
	}
}

func (r *documentRepository) documentsCollection() string {
	if r.collectionPrefix != "" {
		return r.collectionPrefix + "_" + documentsCollectionName
	}
	return documentsCollectionName
}

func (r *documentRepository) Dimension() int {
	return r.dimension
}

func (r *documentRepository) Upsert(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if err := doc.Validate(r.dimension); err != nil {
		return nil, err
	}

	stored := doc.Copy()
	stored.Tags = model.NormalizeTags(doc.Tags)
	now := time.Now().UTC()
	stored.UpdatedAt = now

	docRef := r.client.Collection(r.documentsCollection()).Doc(documentKey(doc.TenantID, doc.ID))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored.CreatedAt = now
		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			createdAt, err := snap.DataAt("CreatedAt")
			if err == nil {
				if t, ok := createdAt.(time.Time); ok {
					stored.CreatedAt = t
				}
			}
		}
		return tx.Set(docRef, toDocumentDoc(stored))
	})
	if err != nil {
		return nil, wrapUnavailable(err, "failed to upsert document",
			goerr.V(model.DocumentIDKey, doc.ID),
			goerr.V(model.TenantIDKey, doc.TenantID))
	}

	return stored, nil
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

	q := r.client.Collection(r.documentsCollection()).Where("TenantID", "==", filter.TenantID)
	if filter.OwnerID != "" {
		q = q.Where("OwnerID", "==", filter.OwnerID)
	}

	// Fetch past k so that equal distances at the boundary can be ordered before the cut
	limit := min(2*k, maxNearestLimit)
	vq := q.FindNearest("Embedding", firestore.Vector32(vector), limit, firestore.DistanceMeasureEuclidean,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	hits := make([]*model.SearchHit, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapUnavailable(err, "failed to iterate vector search results",
				goerr.V(model.TenantIDKey, filter.TenantID))
		}

		d, err := snapshotToDocument(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal document from vector search")
		}

		distance, err := snap.DataAt(distanceField)
		if err != nil {
			return nil, goerr.Wrap(err, "vector search result has no distance", goerr.V(model.DocumentIDKey, d.ID))
		}
		dist, ok := toFloat64(distance)
		if !ok {
			return nil, goerr.New("distance is not a number",
				goerr.V(model.DocumentIDKey, d.ID),
				goerr.V("distance", distance))
		}

		hits = append(hits, &model.SearchHit{Document: d, Distance: dist})
	}

	model.SortSearchHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (r *documentRepository) Get(ctx context.Context, tenantID string, id model.DocumentID) (*model.Document, error) {
	docRef := r.client.Collection(r.documentsCollection()).Doc(documentKey(tenantID, id))
	snap, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
		}
		return nil, wrapUnavailable(err, "failed to get document", goerr.V(model.DocumentIDKey, id))
	}

	d, err := snapshotToDocument(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal document", goerr.V(model.DocumentIDKey, id))
	}
	return d, nil
}

func (r *documentRepository) Delete(ctx context.Context, tenantID string, id model.DocumentID) error {
	docRef := r.client.Collection(r.documentsCollection()).Doc(documentKey(tenantID, id))

	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
		}
		return wrapUnavailable(err, "failed to get document", goerr.V(model.DocumentIDKey, id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return wrapUnavailable(err, "failed to delete document", goerr.V(model.DocumentIDKey, id))
	}
	return nil
}

// deleteAll removes every document in the collection in batches
func (r *documentRepository) deleteAll(ctx context.Context) (int, error) {
	const batchSize = 500
	totalDeleted := 0

	for {
		iter := r.client.Collection(r.documentsCollection()).Limit(batchSize).Documents(ctx)
		bulkWriter := r.client.BulkWriter(ctx)
		count := 0

		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				bulkWriter.End()
				return totalDeleted, goerr.Wrap(err, "failed to iterate documents for deletion")
			}

			if _, err := bulkWriter.Delete(snap.Ref); err != nil {
				iter.Stop()
				bulkWriter.End()
				return totalDeleted, goerr.Wrap(err, "failed to delete document")
			}
			count++
		}
		iter.Stop()
		bulkWriter.End()

		totalDeleted += count
		if count < batchSize {
			break
		}
	}

	return totalDeleted, nil
}
