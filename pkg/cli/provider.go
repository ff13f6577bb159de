package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/cli/config"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	domainConfig "github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/service/llm"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

type providers struct {
	embedder  interfaces.EmbeddingProvider
	generator interfaces.GenerationProvider
}

// newProviders builds the embedding and generation providers. Gemini is used when configured;
// otherwise devEcho enables the offline providers, which only pair with the memory backend.
func newProviders(ctx context.Context, gemini *config.Gemini, repo *config.Repository, policy *domainConfig.Policy, devEcho bool) (*providers, error) {
	if gemini.IsConfigured() {
		client, err := gemini.Configure(ctx)
		if err != nil {
			return nil, err
		}

		embedder, err := llm.NewEmbedder(client,
			llm.WithDimension(repo.Dimension()),
			llm.WithRateLimit(policy.EmbeddingRateLimit.RequestsPerSecond, policy.EmbeddingRateLimit.Burst),
		)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedder")
		}
		generator, err := llm.NewGenerator(client)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create generator")
		}

		logging.Default().Info("Gemini providers enabled", "gemini", gemini, "dimension", repo.Dimension())
		return &providers{embedder: embedder, generator: generator}, nil
	}

	if !devEcho {
		return nil, goerr.Wrap(config.ErrInvalidConfig, "no LLM provider configured: set --gemini-project, or --dev-echo with the memory backend")
	}
	if repo.Backend() != config.BackendMemory {
		return nil, goerr.Wrap(config.ErrInvalidConfig, "--dev-echo requires --repository-backend=memory",
			goerr.V("backend", repo.Backend()))
	}

	logging.Default().Warn("Using offline echo providers (development only)")
	return &providers{
		embedder:  llm.NewHashEmbedder(repo.Dimension()),
		generator: llm.NewEchoGenerator(),
	}, nil
}
