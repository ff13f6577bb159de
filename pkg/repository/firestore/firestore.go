package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

type Firestore struct {
	client       *firestore.Client
	document     *documentRepository
	conversation *conversationRepository
	index        *indexAdmin
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prepends prefix to every collection name. Tests use it to isolate runs.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.document.collectionPrefix = prefix
		f.conversation.collectionPrefix = prefix
		f.index.collectionPrefix = prefix
	}
}

// WithEmbeddingDimension sets the vector index dimension
func WithEmbeddingDimension(dim int) Option {
	return func(f *Firestore) {
		f.document.dimension = dim
		f.index.dimension = dim
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	document := newDocumentRepository(client, model.DefaultEmbeddingDimension)
	f := &Firestore{
		client:       client,
		document:     document,
		conversation: newConversationRepository(client),
		index:        newIndexAdmin(document, projectID, databaseID, model.DefaultEmbeddingDimension),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Document() interfaces.VectorIndex {
	return f.document
}

func (f *Firestore) Conversation() interfaces.ConversationRepository {
	return f.conversation
}

func (f *Firestore) IndexAdmin() interfaces.IndexAdmin {
	return f.index
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
