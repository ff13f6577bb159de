package http

import (
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

// Scope headers set by the upstream identity directory
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderOwnerID  = "X-Owner-ID"
)

// scopeMiddleware resolves the request scope from headers. Both headers are required.
func scopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := model.Scope{
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			OwnerID:  strings.TrimSpace(r.Header.Get(HeaderOwnerID)),
		}
		if err := scope.Validate(); err != nil {
			handleError(r.Context(), w, goerr.Wrap(err, "invalid scope headers"))
			return
		}

		ctx := model.ContextWithScope(r.Context(), scope)
		ctx = logging.With(ctx, logging.From(ctx).With(
			"tenant_id", scope.TenantID,
			"owner_id", scope.OwnerID,
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestScope returns the scope resolved by scopeMiddleware
func requestScope(r *http.Request) model.Scope {
	scope, _ := model.ScopeFromContext(r.Context())
	return scope
}
