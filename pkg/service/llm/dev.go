package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// HashEmbedder is an offline EmbeddingProvider for local development. It hashes words into
// buckets and L2-normalizes the counts, so texts sharing words end up close to each other.
type HashEmbedder struct {
	dimension int
}

var _ interfaces.EmbeddingProvider = &HashEmbedder{}

func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.dimension <= 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding dimension must be positive")
	}

	vec := make([]float64, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	result := make([]float32, e.dimension)
	for i, v := range vec {
		if norm > 0 {
			result[i] = float32(v / norm)
		}
	}
	return result, nil
}

// EchoGenerator is an offline GenerationProvider for local development. It quotes the best
// passage instead of calling a model.
type EchoGenerator struct{}

var _ interfaces.GenerationProvider = &EchoGenerator{}

func NewEchoGenerator() *EchoGenerator {
	return &EchoGenerator{}
}

func (g *EchoGenerator) Generate(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error) {
	if len(passages) == 0 {
		return &model.Generation{
			Text:       fmt.Sprintf("No indexed document matches %q.", query),
			References: []model.Reference{},
		}, nil
	}

	top := passages[0]
	return &model.Generation{
		Text: fmt.Sprintf("%s: %s", top.Title, top.Snippet),
		References: []model.Reference{
			{DocumentID: top.DocumentID, Span: top.Snippet},
		},
	}, nil
}
