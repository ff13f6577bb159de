package interfaces

import (
	"context"

	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

// EmbeddingProvider maps text to a fixed-dimension vector
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerationProvider answers a query from an ordered list of retrieved passages
type GenerationProvider interface {
	Generate(ctx context.Context, query string, passages []*model.RankedResult) (*model.Generation, error)
}

// UploadURLIssuer issues pre-signed URLs for direct file uploads
type UploadURLIssuer interface {
	IssueUploadURL(ctx context.Context, scope model.Scope, filename, contentType string) (*model.UploadTicket, error)
}
