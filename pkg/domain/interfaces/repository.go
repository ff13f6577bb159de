package interfaces

// Repository bundles the persistent stores behind one backend.
type Repository interface {
	Document() VectorIndex
	Conversation() ConversationRepository
	IndexAdmin() IndexAdmin

	Close() error
}
