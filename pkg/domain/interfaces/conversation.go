package interfaces

import (
	"context"

	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// ConversationRepository persists conversations and their ordered message logs.
type ConversationRepository interface {
	// Create creates a new conversation with LastSequence 0
	Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)

	// Get retrieves a conversation owned by ownerID
	Get(ctx context.Context, ownerID string, id model.ConversationID) (*model.Conversation, error)

	// List retrieves all conversations of the owner, most recently updated first
	List(ctx context.Context, ownerID string) ([]*model.Conversation, error)

	// Rename changes the title
	Rename(ctx context.Context, ownerID string, id model.ConversationID, title string) (*model.Conversation, error)

	// Delete removes the conversation and every message in it
	Delete(ctx context.Context, ownerID string, id model.ConversationID) error

	// AppendMessages assigns consecutive sequence keys to msgs, in slice order, in one atomic
	// step and stores them. Messages whose ID already exists are returned as stored and do not
	// consume a key. A lost race on the allocator returns model.ErrSequenceConflict.
	AppendMessages(ctx context.Context, ownerID string, id model.ConversationID, msgs []*model.Message) ([]*model.Message, error)

	// GetMessage retrieves a single message by ID
	GetMessage(ctx context.Context, ownerID string, id model.ConversationID, msgID model.MessageID) (*model.Message, error)

	// ListMessages returns messages with Sequence > after in ascending order, at most limit
	ListMessages(ctx context.Context, ownerID string, id model.ConversationID, after model.SequenceKey, limit int) ([]*model.Message, error)

	// UpdateSummary applies the summary unless a newer one was already applied
	UpdateSummary(ctx context.Context, ownerID string, id model.ConversationID, summary model.Summary) error

	// ListStale returns conversations whose summary lags behind their last message
	ListStale(ctx context.Context, limit int) ([]*model.Conversation, error)
}
