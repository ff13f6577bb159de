package llm_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/service/llm"
)

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateFn func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error)
}

func (s *mockLLMSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	if s.generateFn != nil {
		return s.generateFn(ctx, input, opts...)
	}
	return &gollem.Response{
		Texts: []string{`{"answer":"test answer","references":[]}`},
	}, nil
}

func (s *mockLLMSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.Generate(ctx, input)
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

// mockLLMClient is a mock gollem LLMClient for testing
type mockLLMClient struct {
	newSessionFn        func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error)
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	if c.newSessionFn != nil {
		return c.newSessionFn(ctx, options...)
	}
	return &mockLLMSession{}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	if c.generateEmbeddingFn != nil {
		return c.generateEmbeddingFn(ctx, dimension, input)
	}
	vec := make([]float64, dimension)
	for i := range vec {
		vec[i] = 0.1
	}
	return [][]float64{vec}, nil
}

func TestEmbedder(t *testing.T) {
	t.Run("converts the vector to float32", func(t *testing.T) {
		var gotDim int
		var gotInput []string
		client := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				gotDim = dimension
				gotInput = input
				return [][]float64{{0.5, 0.25, 0, 1}}, nil
			},
		}
		e, err := llm.NewEmbedder(client, llm.WithDimension(4))
		gt.NoError(t, err).Required()

		vec, err := e.Embed(context.Background(), "hello")
		gt.NoError(t, err).Required()
		gt.Value(t, vec).Equal([]float32{0.5, 0.25, 0, 1})
		gt.Value(t, gotDim).Equal(4)
		gt.Value(t, gotInput).Equal([]string{"hello"})
	})

	t.Run("provider failure is transient and unavailable", func(t *testing.T) {
		client := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return nil, errors.New("503 service unavailable")
			},
		}
		e, err := llm.NewEmbedder(client, llm.WithDimension(4))
		gt.NoError(t, err).Required()

		_, err = e.Embed(context.Background(), "hello")
		gt.Error(t, err).Is(model.ErrEmbeddingUnavailable)
		gt.B(t, goerr.HasTag(err, model.TagTransient)).True()
	})

	t.Run("wrong dimension is rejected without transient tag", func(t *testing.T) {
		client := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{{0.1, 0.2}}, nil
			},
		}
		e, err := llm.NewEmbedder(client, llm.WithDimension(4))
		gt.NoError(t, err).Required()

		_, err = e.Embed(context.Background(), "hello")
		gt.Error(t, err).Is(model.ErrEmbeddingUnavailable)
		gt.B(t, goerr.HasTag(err, model.TagTransient)).False()
	})

	t.Run("empty result is rejected", func(t *testing.T) {
		client := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{}, nil
			},
		}
		e, err := llm.NewEmbedder(client, llm.WithDimension(4))
		gt.NoError(t, err).Required()

		_, err = e.Embed(context.Background(), "hello")
		gt.Error(t, err).Is(model.ErrEmbeddingUnavailable)
	})

	t.Run("rate limit wait honours cancellation", func(t *testing.T) {
		e, err := llm.NewEmbedder(&mockLLMClient{}, llm.WithDimension(4), llm.WithRateLimit(0.001, 1))
		gt.NoError(t, err).Required()

		_, err = e.Embed(context.Background(), "first")
		gt.NoError(t, err).Required()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = e.Embed(ctx, "second")
		gt.Error(t, err).Is(model.ErrEmbeddingUnavailable)
	})

	t.Run("nil client is rejected", func(t *testing.T) {
		_, err := llm.NewEmbedder(nil)
		gt.Error(t, err)
	})
}

func TestGenerator(t *testing.T) {
	passages := []*model.RankedResult{
		{DocumentID: "doc-1", Score: 0.9, Title: "Refund policy", Text: "Refunds are issued within 30 days."},
		{DocumentID: "doc-2", Score: 0.5, Title: "Shipping", Text: "We ship worldwide."},
	}

	t.Run("returns the answer with references to known passages only", func(t *testing.T) {
		var prompt string
		client := &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				return &mockLLMSession{
					generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
						if text, ok := input[0].(gollem.Text); ok {
							prompt = string(text)
						}
						return &gollem.Response{Texts: []string{`{
							"answer": "Within 30 days.",
							"references": [
								{"document_id": "doc-1", "span": "within 30 days"},
								{"document_id": "made-up", "span": "hallucinated"}
							]
						}`}}, nil
					},
				}, nil
			},
		}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()

		gen, err := g.Generate(context.Background(), "How long do refunds take?", passages)
		gt.NoError(t, err).Required()
		gt.Value(t, gen.Text).Equal("Within 30 days.")
		gt.Array(t, gen.References).Length(1).Required()
		gt.Value(t, gen.References[0].DocumentID).Equal(model.DocumentID("doc-1"))

		gt.String(t, prompt).Contains("document_id: doc-1")
		gt.String(t, prompt).Contains("How long do refunds take?")
		gt.B(t, strings.Index(prompt, "doc-1") < strings.Index(prompt, "doc-2")).True()
	})

	t.Run("session requests JSON with required answer fields", func(t *testing.T) {
		var cfg gollem.SessionConfig
		client := &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				cfg = gollem.NewSessionConfig(options...)
				return &mockLLMSession{}, nil
			},
		}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()

		_, err = g.Generate(context.Background(), "question", passages)
		gt.NoError(t, err).Required()

		gt.Value(t, cfg.ContentType()).Equal(gollem.ContentTypeJSON)
		schema := cfg.ResponseSchema()
		gt.Value(t, schema).NotNil().Required()
		gt.B(t, schema.Properties["answer"].Required).True()
		gt.B(t, schema.Properties["references"].Required).True()
		item := schema.Properties["references"].Items
		gt.B(t, item.Properties["document_id"].Required).True()
		gt.B(t, item.Properties["span"].Required).False()
	})

	t.Run("session failure is a transient generation failure", func(t *testing.T) {
		client := &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				return &mockLLMSession{
					generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
						return nil, errors.New("quota exceeded")
					},
				}, nil
			},
		}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()

		_, err = g.Generate(context.Background(), "q", passages)
		gt.Error(t, err).Is(model.ErrGenerationFailed)
		gt.B(t, goerr.HasTag(err, model.TagTransient)).True()
	})

	t.Run("malformed output is a generation failure", func(t *testing.T) {
		client := &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				return &mockLLMSession{
					generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
						return &gollem.Response{Texts: []string{"not json"}}, nil
					},
				}, nil
			},
		}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()

		_, err = g.Generate(context.Background(), "q", passages)
		gt.Error(t, err).Is(model.ErrGenerationFailed)
	})

	t.Run("empty answer is a generation failure", func(t *testing.T) {
		client := &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				return &mockLLMSession{
					generateFn: func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
						return &gollem.Response{Texts: []string{`{"answer":"  ","references":[]}`}}, nil
					},
				}, nil
			},
		}
		g, err := llm.NewGenerator(client)
		gt.NoError(t, err).Required()

		_, err = g.Generate(context.Background(), "q", nil)
		gt.Error(t, err).Is(model.ErrGenerationFailed)
	})
}

func TestHashEmbedder(t *testing.T) {
	e := llm.NewHashEmbedder(16)
	ctx := context.Background()

	a, err := e.Embed(ctx, "refund policy for orders")
	gt.NoError(t, err).Required()
	gt.Array(t, a).Length(16)

	again, err := e.Embed(ctx, "Refund policy, for orders!")
	gt.NoError(t, err).Required()
	gt.Value(t, again).Equal(a)

	empty, err := e.Embed(ctx, "")
	gt.NoError(t, err).Required()
	gt.Array(t, empty).Length(16)
}

func TestEchoGenerator(t *testing.T) {
	g := llm.NewEchoGenerator()

	gen, err := g.Generate(context.Background(), "q", []*model.RankedResult{
		{DocumentID: "doc-1", Title: "Title", Snippet: "snippet"},
	})
	gt.NoError(t, err).Required()
	gt.Value(t, gen.Text).Equal("Title: snippet")
	gt.Array(t, gen.References).Length(1)

	gen, err = g.Generate(context.Background(), "q", nil)
	gt.NoError(t, err).Required()
	gt.Array(t, gen.References).Length(0)
}

func TestGenerator_WithRealGemini(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT not set")
	}

	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		t.Skip("TEST_GEMINI_LOCATION not set")
	}

	ctx := context.Background()
	llmClient, err := gemini.New(ctx, projectID, location)
	gt.NoError(t, err).Required()

	e, err := llm.NewEmbedder(llmClient)
	gt.NoError(t, err).Required()
	vec, err := e.Embed(ctx, "How long do refunds take?")
	gt.NoError(t, err).Required()
	gt.Array(t, vec).Length(model.DefaultEmbeddingDimension)

	g, err := llm.NewGenerator(llmClient)
	gt.NoError(t, err).Required()
	gen, err := g.Generate(ctx, "How long do refunds take?", []*model.RankedResult{
		{DocumentID: "doc-1", Title: "Refund policy", Text: "Refunds are issued within 30 days of the return."},
	})
	gt.NoError(t, err).Required()
	gt.String(t, gen.Text).NotEqual("")
}
