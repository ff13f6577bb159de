package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Sentinel errors shared by every layer. Match them with errors.Is.
var (
	// ErrInvalidArgument is bad caller input. Nothing was written.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is a missing conversation, message or document.
	ErrNotFound = errors.New("not found")

	// ErrSchemaViolation is an embedding whose dimension does not match the index.
	ErrSchemaViolation = errors.New("schema violation")

	// Upstream dependency failures
	ErrIndexUnavailable     = errors.New("vector index unavailable")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrGenerationFailed     = errors.New("generation failed")

	// ErrConversationBusy means sequence allocation kept colliding until the retry budget ran out.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrRetrievalFailed means the context step aborted before the user message was written.
	ErrRetrievalFailed = errors.New("context retrieval failed")

	// ErrSequenceConflict is a single lost race on the per-conversation allocator.
	ErrSequenceConflict = errors.New("sequence allocation conflict")
)

// TagTransient marks errors that are worth retrying (network, timeout, contention).
var TagTransient = goerr.NewTag("transient")

// Context keys for error values
const (
	ConversationIDKey = "conversation_id"
	DocumentIDKey     = "document_id"
	MessageIDKey      = "message_id"
	TenantIDKey       = "tenant_id"
	OwnerIDKey        = "owner_id"
	DimensionKey      = "dimension"
)
