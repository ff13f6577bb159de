package config

import "time"

// CallPolicy bounds one kind of external call
type CallPolicy struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetrievalPolicy controls the semantic retriever
type RetrievalPolicy struct {
	DefaultK int
	MaxK     int

	// RequireOwnerScope narrows every query to the caller's own documents
	RequireOwnerScope bool

	// CacheSize of 0 disables the retrieval cache
	CacheSize int
	CacheTTL  time.Duration
}

// TurnPolicy controls the conversation orchestrator
type TurnPolicy struct {
	// BestEffortDefault continues a turn with empty context when retrieval fails
	BestEffortDefault bool

	// AppendAttempts is how often sequence allocation is tried before ConversationBusy
	AppendAttempts int

	SummaryRepairTimeout time.Duration
}

// EmbeddingRateLimit bounds embedding requests. RequestsPerSecond of 0 disables it.
type EmbeddingRateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// ReconcilePolicy controls the stale summary worker
type ReconcilePolicy struct {
	Interval  time.Duration
	BatchSize int
}

// Policy holds every tunable of retrieval and turn processing
type Policy struct {
	Retrieval RetrievalPolicy
	Turn      TurnPolicy

	Embedding   CallPolicy
	VectorQuery CallPolicy
	Generation  CallPolicy
	Store       CallPolicy

	EmbeddingRateLimit EmbeddingRateLimit
	IndexConcurrency   int
	Reconcile          ReconcilePolicy
}

// DefaultPolicy returns the policy used when no configuration file is given
func DefaultPolicy() *Policy {
	return &Policy{
		Retrieval: RetrievalPolicy{
			DefaultK:  5,
			MaxK:      100,
			CacheSize: 1024,
			CacheTTL:  time.Minute,
		},
		Turn: TurnPolicy{
			AppendAttempts:       5,
			SummaryRepairTimeout: 30 * time.Second,
		},
		Embedding: CallPolicy{
			Timeout:         10 * time.Second,
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		VectorQuery: CallPolicy{
			Timeout:         10 * time.Second,
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Generation: CallPolicy{
			Timeout:         60 * time.Second,
			MaxAttempts:     2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     4 * time.Second,
		},
		Store: CallPolicy{
			Timeout:         10 * time.Second,
			MaxAttempts:     3,
			InitialInterval: 20 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
		},
		IndexConcurrency: 4,
		Reconcile: ReconcilePolicy{
			Interval:  time.Minute,
			BatchSize: 100,
		},
	}
}
