package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

func TestScope(t *testing.T) {
	ctx := context.Background()
	_, err := model.ScopeFromContext(ctx)
	gt.B(t, errors.Is(err, model.ErrInvalidArgument)).True()

	ctx = model.ContextWithScope(ctx, model.Scope{TenantID: "t1", OwnerID: "u1"})
	s, err := model.ScopeFromContext(ctx)
	gt.NoError(t, err)
	gt.Value(t, s.TenantID).Equal("t1")
	gt.NoError(t, s.Validate())

	gt.B(t, errors.Is(model.Scope{OwnerID: "u1"}.Validate(), model.ErrInvalidArgument)).True()
	gt.B(t, errors.Is(model.Scope{TenantID: "t1"}.Validate(), model.ErrInvalidArgument)).True()
}
