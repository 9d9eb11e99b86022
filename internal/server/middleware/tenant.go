package middleware

import (
	"context"
	"net/http"

	"github.com/tenantstack/tenantstack/internal/model"
)

// tenantKey is the context key for the bound tenant context.
const tenantKey contextKeyAuth = "tenant_context"

// Actor describes who is acting within the tenant: an interactive user or
// a machine API key.
type Actor struct {
	Type           model.ActorType
	ID             string
	OrganizationID string
	Role           model.Role // users only
	Email          string     // users only
	KeyName        string     // api keys only
}

// TenantContext is the per-request tenant scope derived from the resolved
// principal. It is created once, immutable afterward, and consumed by every
// handler that touches tenant-scoped rows. Invariant: TenantID always equals
// Actor.OrganizationID.
type TenantContext struct {
	TenantID string
	Actor    Actor
}

// AttachTenant binds the tenant context from the authenticated principal.
// Without a principal it is a no-op: downstream handlers must treat an
// absent context as unauthenticated and reject.
func AttachTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r.Context())
		if principal == nil {
			next.ServeHTTP(w, r)
			return
		}

		var tc *TenantContext
		switch {
		case principal.User != nil:
			u := principal.User
			tc = &TenantContext{
				TenantID: u.OrganizationID,
				Actor: Actor{
					Type:           model.ActorUser,
					ID:             u.UserID,
					OrganizationID: u.OrganizationID,
					Role:           u.Role,
					Email:          u.Email,
				},
			}
		case principal.APIKey != nil:
			k := principal.APIKey
			tc = &TenantContext{
				TenantID: k.OrganizationID,
				Actor: Actor{
					Type:           model.ActorAPIKey,
					ID:             k.KeyID,
					OrganizationID: k.OrganizationID,
					KeyName:        k.KeyName,
				},
			}
		default:
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant extracts the tenant context. Returns nil for unauthenticated
// requests.
func GetTenant(ctx context.Context) *TenantContext {
	if tc, ok := ctx.Value(tenantKey).(*TenantContext); ok {
		return tc
	}
	return nil
}
