package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/urfave/cli/v3"
)

// Gemini holds configuration for the Gemini LLM client used for both answer generation and
// document embedding
type Gemini struct {
	projectID      string
	location       string
	model          string
	embeddingModel string
}

// Flags returns CLI flags for Gemini configuration
func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Category:    "LLM",
			Sources:     cli.EnvVars("KOTODAMA_GEMINI_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Category:    "LLM",
			Value:       "us-central1",
			Sources:     cli.EnvVars("KOTODAMA_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for answer generation (client default when empty)",
			Category:    "LLM",
			Sources:     cli.EnvVars("KOTODAMA_GEMINI_MODEL"),
			Destination: &g.model,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini model for embeddings; its output size must match --embedding-dimension",
			Category:    "LLM",
			Sources:     cli.EnvVars("KOTODAMA_GEMINI_EMBEDDING_MODEL"),
			Destination: &g.embeddingModel,
		},
	}
}

// IsConfigured reports whether a Gemini project was given
func (g *Gemini) IsConfigured() bool {
	return g.projectID != ""
}

// LogValue implements slog.LogValuer
func (g Gemini) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.String("model", g.model),
		slog.String("embedding_model", g.embeddingModel),
	)
}

func (g *Gemini) clientOptions() []gemini.Option {
	var opts []gemini.Option
	if g.model != "" {
		opts = append(opts, gemini.WithModel(g.model))
	}
	if g.embeddingModel != "" {
		opts = append(opts, gemini.WithEmbeddingModel(g.embeddingModel))
	}
	return opts
}

// Configure creates a new Gemini LLM client from the configured flags.
// Returns nil if projectID is not configured.
func (g *Gemini) Configure(ctx context.Context) (gollem.LLMClient, error) {
	if !g.IsConfigured() {
		return nil, nil
	}

	client, err := gemini.New(ctx, g.projectID, g.location, g.clientOptions()...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client",
			goerr.V("project_id", g.projectID),
			goerr.V("location", g.location))
	}

	return client, nil
}
