package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// Generator implements interfaces.GenerationProvider with a structured-output gollem session
type Generator struct {
	llmClient    gollem.LLMClient
	systemPrompt string
}

var _ interfaces.GenerationProvider = &Generator{}

// GeneratorOption is a functional option for Generator
type GeneratorOption func(*Generator)

// WithSystemPrompt replaces the default system prompt
func WithSystemPrompt(prompt string) GeneratorOption {
	return func(g *Generator) {
		if prompt != "" {
			g.systemPrompt = prompt
		}
	}
}

// NewGenerator creates a Generator with the provided LLM client
func NewGenerator(llmClient gollem.LLMClient, opts ...GeneratorOption) (*Generator, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	g := &Generator{
		llmClient:    llmClient,
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate answers query grounded on passages. References to documents that are not among the
// passages are dropped.
func (g *Generator) Generate(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
	session, err := g.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildResponseSchema()),
		gollem.WithSessionSystemPrompt(g.systemPrompt),
	)
	if err != nil {
		return nil, wrapGenerationError(err, "failed to create LLM session")
	}

	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(buildUserPrompt(query, passages))})
	if err != nil {
		return nil, wrapGenerationError(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return nil, goerr.Wrap(model.ErrGenerationFailed, "LLM returned no text", goerr.T(model.TagTransient))
	}

	var llmResp llmResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &llmResp); err != nil {
		return nil, goerr.Wrap(model.ErrGenerationFailed, "failed to parse LLM response",
			goerr.V("response", resp.Texts[0]),
			goerr.V("cause", err.Error()),
			goerr.T(model.TagTransient))
	}

	answer := strings.TrimSpace(llmResp.Answer)
	if answer == "" {
		return nil, goerr.Wrap(model.ErrGenerationFailed, "LLM returned an empty answer", goerr.T(model.TagTransient))
	}

	known := make(map[model.DocumentID]struct{}, len(passages))
	for _, p := range passages {
		known[p.DocumentID] = struct{}{}
	}

	refs := make([]model.Reference, 0, len(llmResp.References))
	for _, ref := range llmResp.References {
		id := model.DocumentID(ref.DocumentID)
		if _, ok := known[id]; !ok {
			continue
		}
		refs = append(refs, model.Reference{DocumentID: id, Span: ref.Span})
	}

	return &model.Generation{
		Text:       answer,
		References: refs,
	}, nil
}

func wrapGenerationError(err error, msg string) error {
	opts := []goerr.Option{goerr.V("cause", err.Error())}
	if !errors.Is(err, context.Canceled) {
		opts = append(opts, goerr.T(model.TagTransient))
	}
	return goerr.Wrap(model.ErrGenerationFailed, msg, opts...)
}

const defaultSystemPrompt = `You are a question answering assistant for a document knowledge base.

## Instructions:

1. Answer the user's question using only the numbered passages provided.
2. If the passages do not contain the answer, say so plainly instead of guessing.
3. Answer in the same language as the question.
4. For every passage you used, add a reference with its document_id and the short span of text you relied on.
`

// buildUserPrompt lists passages in rank order followed by the question
func buildUserPrompt(query string, passages []*model.RankedResult) string {
	var sb strings.Builder

	sb.WriteString("## Passages:\n\n")
	if len(passages) == 0 {
		sb.WriteString("(no passages were found)\n\n")
	}
	for i, p := range passages {
		fmt.Fprintf(&sb, "### [%d] document_id: %s\n", i+1, p.DocumentID)
		if p.Title != "" {
			fmt.Fprintf(&sb, "**Title:** %s\n", p.Title)
		}
		if p.Description != "" {
			fmt.Fprintf(&sb, "**Description:** %s\n", p.Description)
		}
		text := p.Text
		if text == "" {
			text = p.Snippet
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question:\n\n")
	sb.WriteString(query)
	sb.WriteString("\n")

	return sb.String()
}

// buildResponseSchema creates the JSON schema for structured output
func buildResponseSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "AnswerResponse",
		Description: "Answer to the question with references to the passages used",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"answer": {
				Type:        gollem.TypeString,
				Description: "The answer to the question",
				Required:    true,
			},
			"references": {
				Type:        gollem.TypeArray,
				Description: "Passages the answer relies on",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"document_id": {
							Type:        gollem.TypeString,
							Description: "The document_id of the passage",
							Required:    true,
						},
						"span": {
							Type:        gollem.TypeString,
							Description: "The part of the passage the answer relies on",
						},
					},
				},
			},
		},
	}
}

// llmResponse is the structured output from the LLM
type llmResponse struct {
	Answer     string         `json:"answer"`
	References []llmReference `json:"references"`
}

type llmReference struct {
	DocumentID string `json:"document_id"`
	Span       string `json:"span"`
}
