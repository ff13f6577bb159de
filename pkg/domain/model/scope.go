package model

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// Scope identifies the tenant and user a request acts for. It is resolved by an external
// directory and treated as opaque here.
type Scope struct {
	TenantID string
	OwnerID  string
}

// Validate requires both identifiers. Tenant scoping is never optional.
func (s Scope) Validate() error {
	if s.TenantID == "" {
		return goerr.Wrap(ErrInvalidArgument, "tenant ID is required")
	}
	if s.OwnerID == "" {
		return goerr.Wrap(ErrInvalidArgument, "owner ID is required", goerr.V(TenantIDKey, s.TenantID))
	}
	return nil
}

type scopeCtxKey struct{}

// ContextWithScope stores the scope in the context
func ContextWithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// ScopeFromContext retrieves the scope from the context
func ScopeFromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeCtxKey{}).(Scope)
	if !ok {
		return Scope{}, goerr.Wrap(ErrInvalidArgument, "scope not found in context")
	}
	return s, nil
}
