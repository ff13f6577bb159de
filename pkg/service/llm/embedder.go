package llm

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"golang.org/x/time/rate"
)

// Embedder implements interfaces.EmbeddingProvider on top of a gollem LLM client
type Embedder struct {
	llmClient gollem.LLMClient
	dimension int
	limiter   *rate.Limiter
}

var _ interfaces.EmbeddingProvider = &Embedder{}

// EmbedderOption is a functional option for Embedder
type EmbedderOption func(*Embedder)

// WithDimension sets the requested embedding dimension
func WithDimension(dim int) EmbedderOption {
	return func(e *Embedder) {
		e.dimension = dim
	}
}

// WithRateLimit bounds embedding requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) EmbedderOption {
	return func(e *Embedder) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewEmbedder creates an Embedder with the provided LLM client
func NewEmbedder(llmClient gollem.LLMClient, opts ...EmbedderOption) (*Embedder, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	e := &Embedder{
		llmClient: llmClient,
		dimension: model.DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V(model.DimensionKey, e.dimension))
	}
	return e, nil
}

// Dimension returns the dimension of vectors produced by Embed
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed generates an embedding vector for text. Provider failures are returned as
// model.ErrEmbeddingUnavailable tagged transient.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding rate limit wait aborted",
				goerr.V("cause", err.Error()),
				goerr.T(model.TagTransient))
		}
	}

	embeddings, err := e.llmClient.GenerateEmbedding(ctx, e.dimension, []string{text})
	if err != nil {
		opts := []goerr.Option{goerr.V("cause", err.Error())}
		if !errors.Is(err, context.Canceled) {
			opts = append(opts, goerr.T(model.TagTransient))
		}
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "failed to generate embedding", opts...)
	}

	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "no embedding returned", goerr.T(model.TagTransient))
	}
	if len(embeddings[0]) != e.dimension {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding has unexpected dimension",
			goerr.V(model.DimensionKey, e.dimension),
			goerr.V("actual", len(embeddings[0])))
	}

	// Convert float64 to float32
	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}

	return result, nil
}
