package usecase

import (
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/utils/retry"
)

type UseCases struct {
	repo      interfaces.Repository
	embedder  interfaces.EmbeddingProvider
	generator interfaces.GenerationProvider
	uploader  interfaces.UploadURLIssuer
	policy    *config.Policy

	// Retriever is the cached retriever when caching is enabled
	Retriever    interfaces.Retriever
	Retrieval    *RetrievalUseCase
	Document     *DocumentUseCase
	Conversation *ConversationUseCase
	Turn         *TurnUseCase
	Upload       *UploadUseCase
}

type Option func(*UseCases)

func WithPolicy(policy *config.Policy) Option {
	return func(uc *UseCases) {
		if policy != nil {
			uc.policy = policy
		}
	}
}

func WithEmbedder(embedder interfaces.EmbeddingProvider) Option {
	return func(uc *UseCases) {
		uc.embedder = embedder
	}
}

func WithGenerator(generator interfaces.GenerationProvider) Option {
	return func(uc *UseCases) {
		uc.generator = generator
	}
}

// WithUploader enables upload URL issuance
func WithUploader(uploader interfaces.UploadURLIssuer) Option {
	return func(uc *UseCases) {
		uc.uploader = uploader
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:   repo,
		policy: config.DefaultPolicy(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Retrieval = NewRetrievalUseCase(repo.Document(), uc.embedder, uc.policy)

	var invalidator cacheInvalidator
	uc.Retriever = uc.Retrieval
	if uc.policy.Retrieval.CacheSize > 0 {
		cached := NewCachedRetriever(uc.Retrieval, uc.policy.Retrieval.CacheSize, uc.policy.Retrieval.CacheTTL)
		uc.Retriever = cached
		invalidator = cached
	}

	uc.Document = NewDocumentUseCase(repo.Document(), uc.embedder, uc.policy, invalidator)
	uc.Conversation = NewConversationUseCase(repo.Conversation())
	uc.Turn = NewTurnUseCase(repo.Conversation(), uc.Retriever, uc.generator, uc.policy)
	if uc.uploader != nil {
		uc.Upload = NewUploadUseCase(uc.uploader)
	}

	return uc
}

func toRetryPolicy(p config.CallPolicy) retry.Policy {
	return retry.Policy{
		MaxAttempts:     p.MaxAttempts,
		Timeout:         p.Timeout,
		InitialInterval: p.InitialInterval,
		MaxInterval:     p.MaxInterval,
	}
}
