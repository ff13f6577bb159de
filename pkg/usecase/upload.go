package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

type UploadUseCase struct {
	issuer interfaces.UploadURLIssuer
}

func NewUploadUseCase(issuer interfaces.UploadURLIssuer) *UploadUseCase {
	return &UploadUseCase{issuer: issuer}
}

func (uc *UploadUseCase) IssueUploadURL(ctx context.Context, scope model.Scope, filename, contentType string) (*model.UploadTicket, error) {
	if uc == nil || uc.issuer == nil {
		return nil, goerr.Wrap(ErrNotConfigured, "upload bucket is not configured")
	}

	ticket, err := uc.issuer.IssueUploadURL(ctx, scope, filename, contentType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to issue upload URL", goerr.V("filename", filename))
	}
	return ticket, nil
}
