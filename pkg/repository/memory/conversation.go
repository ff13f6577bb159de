package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

type conversationEntry struct {
	conv     *model.Conversation
	messages []*model.Message // ascending by Sequence
	byID     map[model.MessageID]*model.Message
}

type conversationRepository struct {
	mu            sync.RWMutex
	conversations map[model.ConversationID]*conversationEntry
}

func newConversationRepository() *conversationRepository {
	return &conversationRepository{
		conversations: make(map[model.ConversationID]*conversationEntry),
	}
}

func copyConversation(c *model.Conversation) *model.Conversation {
	copied := *c
	return &copied
}

// lookup returns the entry if it exists and belongs to ownerID. Caller must hold the lock.
func (r *conversationRepository) lookup(ownerID string, id model.ConversationID) (*conversationEntry, error) {
	entry, ok := r.conversations[id]
	if !ok || entry.conv.OwnerID != ownerID {
		return nil, goerr.Wrap(model.ErrNotFound, "conversation not found",
			goerr.V(model.ConversationIDKey, id),
			goerr.V(model.OwnerIDKey, ownerID))
	}
	return entry, nil
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyConversation(conv)
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}
	if _, exists := r.conversations[created.ID]; exists {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "conversation already exists",
			goerr.V(model.ConversationIDKey, created.ID))
	}

	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.LastSequence = 0
	created.SummarySequence = 0
	created.SummaryStale = false

	r.conversations[created.ID] = &conversationEntry{
		conv: created,
		byID: make(map[model.MessageID]*model.Message),
	}
	return copyConversation(created), nil
}

func (r *conversationRepository) Get(ctx context.Context, ownerID string, id model.ConversationID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}
	return copyConversation(entry.conv), nil
}

func (r *conversationRepository) List(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Conversation, 0)
	for _, entry := range r.conversations {
		if entry.conv.OwnerID == ownerID {
			result = append(result, copyConversation(entry.conv))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *conversationRepository) Rename(ctx context.Context, ownerID string, id model.ConversationID, title string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}
	entry.conv.Title = title
	entry.conv.UpdatedAt = time.Now().UTC()
	return copyConversation(entry.conv), nil
}

func (r *conversationRepository) Delete(ctx context.Context, ownerID string, id model.ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.lookup(ownerID, id); err != nil {
		return err
	}
	// messages live inside the entry, so they go with it
	delete(r.conversations, id)
	return nil
}

func (r *conversationRepository) AppendMessages(ctx context.Context, ownerID string, id model.ConversationID, msgs []*model.Message) ([]*model.Message, error) {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := entry.conv.LastSequence
	result := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		if existing, ok := entry.byID[m.ID]; ok {
			result = append(result, existing.Copy())
			continue
		}

		next++
		stored := m.Copy()
		stored.ConversationID = id
		stored.Sequence = next
		if stored.Timestamp.IsZero() {
			stored.Timestamp = now
		}
		entry.messages = append(entry.messages, stored)
		entry.byID[stored.ID] = stored
		result = append(result, stored.Copy())
	}

	if next != entry.conv.LastSequence {
		entry.conv.LastSequence = next
		entry.conv.SummaryStale = entry.conv.SummarySequence < next
	}
	return result, nil
}

func (r *conversationRepository) GetMessage(ctx context.Context, ownerID string, id model.ConversationID, msgID model.MessageID) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}
	m, ok := entry.byID[msgID]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "message not found",
			goerr.V(model.ConversationIDKey, id),
			goerr.V(model.MessageIDKey, msgID))
	}
	return m.Copy(), nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, ownerID string, id model.ConversationID, after model.SequenceKey, limit int) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return nil, err
	}

	start := sort.Search(len(entry.messages), func(i int) bool {
		return entry.messages[i].Sequence > after
	})

	result := make([]*model.Message, 0)
	for _, m := range entry.messages[start:] {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.Copy())
	}
	return result, nil
}

func (r *conversationRepository) UpdateSummary(ctx context.Context, ownerID string, id model.ConversationID, summary model.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookup(ownerID, id)
	if err != nil {
		return err
	}
	entry.conv.ApplySummary(summary)
	return nil
}

func (r *conversationRepository) ListStale(ctx context.Context, limit int) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Conversation, 0)
	for _, entry := range r.conversations {
		if entry.conv.SummaryStale {
			result = append(result, copyConversation(entry.conv))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
