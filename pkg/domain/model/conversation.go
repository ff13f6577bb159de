package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
)

const previewLength = 120

// ConversationID is a UUID-based identifier for Conversation
type ConversationID string

// NewConversationID generates a new UUID v4 ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// Conversation is the summary record of a chat. It is keyed by (OwnerID, ID).
// LastSequence is the per-conversation sequence allocator: the highest key committed so far.
type Conversation struct {
	ID                 ConversationID
	OwnerID            string
	TenantID           string
	Title              string
	LastMessagePreview string
	LastSequence       SequenceKey
	SummarySequence    SequenceKey
	SummaryStale       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OwnedBy reports whether the conversation belongs to the scope
func (c *Conversation) OwnedBy(s Scope) bool {
	return c.OwnerID == s.OwnerID && c.TenantID == s.TenantID
}

// Summary is the derived view written after a turn
type Summary struct {
	Preview   string
	Sequence  SequenceKey
	UpdatedAt time.Time
}

// NewSummary builds a summary from the latest message
func NewSummary(msg *Message, now time.Time) Summary {
	return Summary{
		Preview:   Truncate(msg.Text, previewLength),
		Sequence:  msg.Sequence,
		UpdatedAt: now,
	}
}

// ApplySummary updates the conversation with s unless s is older than what is already applied.
// It returns false when s was discarded.
func (c *Conversation) ApplySummary(s Summary) bool {
	if s.Sequence < c.SummarySequence {
		return false
	}
	c.LastMessagePreview = s.Preview
	c.SummarySequence = s.Sequence
	c.SummaryStale = c.SummarySequence < c.LastSequence
	if s.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = s.UpdatedAt
	}
	return true
}

// SequenceKey orders messages within one conversation. Keys start at 1.
type SequenceKey int64

// MessageID identifies a message. Turn messages use IDs derived from the idempotency token.
type MessageID string

// messageNamespace scopes derived message IDs
var messageNamespace = uuid.MustParse("7f3c2a8e-5b1d-4c6f-9a0e-2d4b6c8e1f3a")

// DeriveMessageID returns the deterministic ID of the message a sender contributes to the turn
// identified by token in conversation convID.
func DeriveMessageID(convID ConversationID, token string, sender types.Sender) MessageID {
	name := string(convID) + "\x00" + token + "\x00" + sender.String()
	return MessageID(uuid.NewSHA1(messageNamespace, []byte(name)).String())
}

// Reference is one citation attached to an assistant message
type Reference struct {
	DocumentID DocumentID
	Span       string
}

// Message is an entry in a conversation log. Sequence is assigned by the store.
type Message struct {
	ID               MessageID
	ConversationID   ConversationID
	Sequence         SequenceKey
	Sender           types.Sender
	Text             string
	References       []Reference
	IdempotencyToken string
	Timestamp        time.Time
}

// Validate checks fields a caller must fill before appending
func (m *Message) Validate() error {
	if m.ID == "" {
		return goerr.Wrap(ErrInvalidArgument, "message ID is required")
	}
	if !m.Sender.IsValid() {
		return goerr.Wrap(ErrInvalidArgument, "invalid message sender",
			goerr.V(MessageIDKey, m.ID),
			goerr.V("sender", m.Sender))
	}
	if m.Text == "" {
		return goerr.Wrap(ErrInvalidArgument, "message text is required", goerr.V(MessageIDKey, m.ID))
	}
	return nil
}

// Copy returns a deep copy of the message
func (m *Message) Copy() *Message {
	copied := *m
	if m.References != nil {
		copied.References = make([]Reference, len(m.References))
		copy(copied.References, m.References)
	}
	return &copied
}
