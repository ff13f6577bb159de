package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	conversationsCollectionName = "conversations"
	messagesCollectionName      = "messages"
)

type conversationDoc struct {
	ID                 model.ConversationID `firestore:"ID"`
	OwnerID            string               `firestore:"OwnerID"`
	TenantID           string               `firestore:"TenantID"`
	Title              string               `firestore:"Title"`
	LastMessagePreview string               `firestore:"LastMessagePreview"`
	LastSequence       int64                `firestore:"LastSequence"`
	SummarySequence    int64                `firestore:"SummarySequence"`
	SummaryStale       bool                 `firestore:"SummaryStale"`
	CreatedAt          time.Time            `firestore:"CreatedAt"`
	UpdatedAt          time.Time            `firestore:"UpdatedAt"`

	// Deleted marks a conversation whose messages are being swept. It reads as not found.
	Deleted bool `firestore:"Deleted"`
}

func toConversationDoc(c *model.Conversation) *conversationDoc {
	return &conversationDoc{
		ID:                 c.ID,
		OwnerID:            c.OwnerID,
		TenantID:           c.TenantID,
		Title:              c.Title,
		LastMessagePreview: c.LastMessagePreview,
		LastSequence:       int64(c.LastSequence),
		SummarySequence:    int64(c.SummarySequence),
		SummaryStale:       c.SummaryStale,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func fromConversationDoc(d *conversationDoc) *model.Conversation {
	return &model.Conversation{
		ID:                 d.ID,
		OwnerID:            d.OwnerID,
		TenantID:           d.TenantID,
		Title:              d.Title,
		LastMessagePreview: d.LastMessagePreview,
		LastSequence:       model.SequenceKey(d.LastSequence),
		SummarySequence:    model.SequenceKey(d.SummarySequence),
		SummaryStale:       d.SummaryStale,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type referenceDoc struct {
	DocumentID string `firestore:"DocumentID"`
	Span       string `firestore:"Span"`
}

type messageDoc struct {
	ID               model.MessageID      `firestore:"ID"`
	ConversationID   model.ConversationID `firestore:"ConversationID"`
	Sequence         int64                `firestore:"Sequence"`
	Sender           string               `firestore:"Sender"`
	Text             string               `firestore:"Text"`
	References       []referenceDoc       `firestore:"References"`
	IdempotencyToken string               `firestore:"IdempotencyToken"`
	Timestamp        time.Time            `firestore:"Timestamp"`
}

func toMessageDoc(m *model.Message) *messageDoc {
	refs := make([]referenceDoc, len(m.References))
	for i, ref := range m.References {
		refs[i] = referenceDoc{DocumentID: string(ref.DocumentID), Span: ref.Span}
	}
	return &messageDoc{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Sequence:         int64(m.Sequence),
		Sender:           m.Sender.String(),
		Text:             m.Text,
		References:       refs,
		IdempotencyToken: m.IdempotencyToken,
		Timestamp:        m.Timestamp,
	}
}

func fromMessageDoc(d *messageDoc) *model.Message {
	var refs []model.Reference
	if len(d.References) > 0 {
		refs = make([]model.Reference, len(d.References))
		for i, ref := range d.References {
			refs[i] = model.Reference{DocumentID: model.DocumentID(ref.DocumentID), Span: ref.Span}
		}
	}
	return &model.Message{
		ID:               d.ID,
		ConversationID:   d.ConversationID,
		Sequence:         model.SequenceKey(d.Sequence),
		Sender:           types.Sender(d.Sender),
		Text:             d.Text,
		References:       refs,
		IdempotencyToken: d.IdempotencyToken,
		Timestamp:        d.Timestamp,
	}
}

func snapshotToConversationDoc(snap *firestore.DocumentSnapshot) (*conversationDoc, error) {
	var d conversationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func snapshotToMessage(snap *firestore.DocumentSnapshot) (*model.Message, error) {
	var d messageDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return fromMessageDoc(&d), nil
}

type conversationRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newConversationRepository(client *firestore.Client) *conversationRepository {
	return &conversationRepository{client: client}
}

func (r *conversationRepository) conversationsCollection() string {
	if r.collectionPrefix != "" {
		return r.collectionPrefix + "_" + conversationsCollectionName
	}
	return conversationsCollectionName
}

func (r *conversationRepository) conversationRef(id model.ConversationID) *firestore.DocumentRef {
	return r.client.Collection(r.conversationsCollection()).Doc(string(id))
}

// messagesCollection returns the subcollection path: conversations/{conversationID}/messages
func (r *conversationRepository) messagesCollection(id model.ConversationID) *firestore.CollectionRef {
	return r.conversationRef(id).Collection(messagesCollectionName)
}

func notFound(ownerID string, id model.ConversationID) error {
	return goerr.Wrap(model.ErrNotFound, "conversation not found",
		goerr.V(model.ConversationIDKey, id),
		goerr.V(model.OwnerIDKey, ownerID))
}

// loadOwnedDoc reads a conversation snapshot and checks the owner. A conversation of another
// owner is reported as not found. Deleted conversations are returned as is.
func loadOwnedDoc(snap *firestore.DocumentSnapshot, err error, ownerID string, id model.ConversationID) (*conversationDoc, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, notFound(ownerID, id)
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
	}

	d, err := snapshotToConversationDoc(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal conversation", goerr.V(model.ConversationIDKey, id))
	}
	if d.OwnerID != ownerID {
		return nil, notFound(ownerID, id)
	}
	return d, nil
}

// loadOwned is loadOwnedDoc for live conversations
func loadOwned(snap *firestore.DocumentSnapshot, err error, ownerID string, id model.ConversationID) (*model.Conversation, error) {
	d, err := loadOwnedDoc(snap, err, ownerID, id)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return nil, notFound(ownerID, id)
	}
	return fromConversationDoc(d), nil
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	now := time.Now().UTC()
	created := &model.Conversation{
		ID:        conv.ID,
		OwnerID:   conv.OwnerID,
		TenantID:  conv.TenantID,
		Title:     conv.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}

	if _, err := r.conversationRef(created.ID).Create(ctx, toConversationDoc(created)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, goerr.Wrap(model.ErrInvalidArgument, "conversation already exists",
				goerr.V(model.ConversationIDKey, created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create conversation", goerr.V(model.ConversationIDKey, created.ID))
	}

	return created, nil
}

func (r *conversationRepository) Get(ctx context.Context, ownerID string, id model.ConversationID) (*model.Conversation, error) {
	snap, err := r.conversationRef(id).Get(ctx)
	return loadOwned(snap, err, ownerID, id)
}

func (r *conversationRepository) List(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	iter := r.client.Collection(r.conversationsCollection()).
		Where("OwnerID", "==", ownerID).
		OrderBy("UpdatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	conversations := make([]*model.Conversation, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate conversations", goerr.V(model.OwnerIDKey, ownerID))
		}

		d, err := snapshotToConversationDoc(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal conversation")
		}
		if d.Deleted {
			continue
		}
		conversations = append(conversations, fromConversationDoc(d))
	}

	return conversations, nil
}

func (r *conversationRepository) Rename(ctx context.Context, ownerID string, id model.ConversationID, title string) (*model.Conversation, error) {
	ref := r.conversationRef(id)

	var renamed *model.Conversation
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		conv, err := loadOwned(snap, err, ownerID, id)
		if err != nil {
			return err
		}

		conv.Title = title
		conv.UpdatedAt = time.Now().UTC()
		renamed = conv
		return tx.Update(ref, []firestore.Update{
			{Path: "Title", Value: conv.Title},
			{Path: "UpdatedAt", Value: conv.UpdatedAt},
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to rename conversation", goerr.V(model.ConversationIDKey, id))
	}

	return renamed, nil
}

// Delete marks the conversation deleted in a transaction before sweeping its messages. An append
// that read the conversation earlier conflicts with the mark and aborts, and later appends see not
// found, so no message can be written after the sweep. The conversation document is removed last;
// calling Delete again resumes an interrupted sweep.
func (r *conversationRepository) Delete(ctx context.Context, ownerID string, id model.ConversationID) error {
	ref := r.conversationRef(id)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		d, err := loadOwnedDoc(snap, err, ownerID, id)
		if err != nil {
			return err
		}
		if d.Deleted {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "Deleted", Value: true},
			{Path: "SummaryStale", Value: false},
		})
	})
	if err != nil {
		return goerr.Wrap(err, "failed to mark conversation deleted", goerr.V(model.ConversationIDKey, id))
	}

	const batchSize = 500
	for {
		iter := r.messagesCollection(id).Limit(batchSize).Documents(ctx)
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
				return goerr.Wrap(err, "failed to iterate messages for deletion", goerr.V(model.ConversationIDKey, id))
			}

			if _, err := bulkWriter.Delete(snap.Ref); err != nil {
				iter.Stop()
				bulkWriter.End()
				return goerr.Wrap(err, "failed to delete message", goerr.V(model.ConversationIDKey, id))
			}
			count++
		}
		iter.Stop()
		bulkWriter.End()

		if count < batchSize {
			break
		}
	}

	if _, err := ref.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete conversation", goerr.V(model.ConversationIDKey, id))
	}
	return nil
}

// AppendMessages allocates sequence keys in a single-attempt transaction. Firestore aborts the
// transaction when another writer committed the conversation first; that case is returned as
// model.ErrSequenceConflict and retried by the caller.
func (r *conversationRepository) AppendMessages(ctx context.Context, ownerID string, id model.ConversationID, msgs []*model.Message) ([]*model.Message, error) {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	convRef := r.conversationRef(id)
	msgRefs := make([]*firestore.DocumentRef, len(msgs))
	for i, m := range msgs {
		msgRefs[i] = r.messagesCollection(id).Doc(string(m.ID))
	}

	var result []*model.Message
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = make([]*model.Message, 0, len(msgs))

		snap, err := tx.Get(convRef)
		conv, err := loadOwned(snap, err, ownerID, id)
		if err != nil {
			return err
		}

		existing, err := tx.GetAll(msgRefs)
		if err != nil {
			return goerr.Wrap(err, "failed to read messages", goerr.V(model.ConversationIDKey, id))
		}

		now := time.Now().UTC()
		next := conv.LastSequence
		for i, m := range msgs {
			if existing[i].Exists() {
				stored, err := snapshotToMessage(existing[i])
				if err != nil {
					return goerr.Wrap(err, "failed to unmarshal message", goerr.V(model.MessageIDKey, m.ID))
				}
				result = append(result, stored)
				continue
			}

			next++
			stored := m.Copy()
			stored.ConversationID = id
			stored.Sequence = next
			if stored.Timestamp.IsZero() {
				stored.Timestamp = now
			}
			if err := tx.Create(msgRefs[i], toMessageDoc(stored)); err != nil {
				return goerr.Wrap(err, "failed to create message", goerr.V(model.MessageIDKey, m.ID))
			}
			result = append(result, stored)
		}

		if next == conv.LastSequence {
			return nil
		}
		return tx.Update(convRef, []firestore.Update{
			{Path: "LastSequence", Value: int64(next)},
			{Path: "SummaryStale", Value: conv.SummarySequence < next},
		})
	}, firestore.MaxAttempts(1))

	if err != nil {
		if status.Code(err) == codes.Aborted {
			return nil, goerr.Wrap(model.ErrSequenceConflict, "conversation was modified concurrently",
				goerr.V(model.ConversationIDKey, id),
				goerr.T(model.TagTransient))
		}
		return nil, goerr.Wrap(err, "failed to append messages", goerr.V(model.ConversationIDKey, id))
	}

	return result, nil
}

func (r *conversationRepository) GetMessage(ctx context.Context, ownerID string, id model.ConversationID, msgID model.MessageID) (*model.Message, error) {
	if _, err := r.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	snap, err := r.messagesCollection(id).Doc(string(msgID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "message not found",
				goerr.V(model.ConversationIDKey, id),
				goerr.V(model.MessageIDKey, msgID))
		}
		return nil, goerr.Wrap(err, "failed to get message", goerr.V(model.MessageIDKey, msgID))
	}

	m, err := snapshotToMessage(snap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal message", goerr.V(model.MessageIDKey, msgID))
	}
	return m, nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, ownerID string, id model.ConversationID, after model.SequenceKey, limit int) ([]*model.Message, error) {
	if _, err := r.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	q := r.messagesCollection(id).
		Where("Sequence", ">", int64(after)).
		OrderBy("Sequence", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	messages := make([]*model.Message, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V(model.ConversationIDKey, id))
		}

		m, err := snapshotToMessage(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal message")
		}
		messages = append(messages, m)
	}

	return messages, nil
}

func (r *conversationRepository) UpdateSummary(ctx context.Context, ownerID string, id model.ConversationID, summary model.Summary) error {
	ref := r.conversationRef(id)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		conv, err := loadOwned(snap, err, ownerID, id)
		if err != nil {
			return err
		}

		if !conv.ApplySummary(summary) {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "LastMessagePreview", Value: conv.LastMessagePreview},
			{Path: "SummarySequence", Value: int64(conv.SummarySequence)},
			{Path: "SummaryStale", Value: conv.SummaryStale},
			{Path: "UpdatedAt", Value: conv.UpdatedAt},
		})
	})
	if err != nil {
		return goerr.Wrap(err, "failed to update summary", goerr.V(model.ConversationIDKey, id))
	}
	return nil
}

func (r *conversationRepository) ListStale(ctx context.Context, limit int) ([]*model.Conversation, error) {
	q := r.client.Collection(r.conversationsCollection()).Where("SummaryStale", "==", true)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	conversations := make([]*model.Conversation, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate stale conversations")
		}

		d, err := snapshotToConversationDoc(snap)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal conversation")
		}
		if d.Deleted {
			continue
		}
		conversations = append(conversations, fromConversationDoc(d))
	}

	return conversations, nil
}
