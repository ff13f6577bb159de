package memory

import (
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// Memory is an in-process Repository for development and tests
type Memory struct {
	document     *documentRepository
	conversation *conversationRepository
}

var _ interfaces.Repository = &Memory{}

type Option func(*Memory)

// WithEmbeddingDimension sets the vector index dimension
func WithEmbeddingDimension(dim int) Option {
	return func(m *Memory) {
		m.document.dimension = dim
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		document:     newDocumentRepository(model.DefaultEmbeddingDimension),
		conversation: newConversationRepository(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Document() interfaces.VectorIndex {
	return m.document
}

func (m *Memory) Conversation() interfaces.ConversationRepository {
	return m.conversation
}

func (m *Memory) IndexAdmin() interfaces.IndexAdmin {
	return m.document
}

func (m *Memory) Close() error {
	return nil
}
