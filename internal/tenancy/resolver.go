package tenancy

import (
	"context"
	"errors"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/logging"
	"github.com/mbd888/bakehouse/internal/tenant"
)

// Gin context keys.
const (
	ContextKeyTenantID = "tenant_id"
	ContextKeyHandle   = "tenant_handle"
)

var tenantPath = regexp.MustCompile(`^/tenants/([^/]+)`)

// ExtractTenantID returns the identifier in a /tenants/<id>/... path.
func ExtractTenantID(path string) (string, bool) {
	m := tenantPath.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// WithTenantID attaches a tenant identifier to ctx.
func WithTenantID(ctx context.Context, id string) context.Context {
	return logging.WithTenantID(ctx, id)
}

// TenantID returns the identifier attached by the resolver, if any.
func TenantID(ctx context.Context) (string, bool) {
	id := logging.TenantID(ctx)
	return id, id != ""
}

// Middleware attaches the tenant identifier from the request path to the
// request context. Requests outside /tenants/<id> pass through untouched.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := ExtractTenantID(c.Request.URL.Path); ok {
			c.Set(ContextKeyTenantID, id)
			c.Request = c.Request.WithContext(WithTenantID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// HandleResolver resolves tenant ids to handles. *Pool implements it.
type HandleResolver interface {
	Resolve(ctx context.Context, tenantID string) (Handle, error)
}

// RequireTenant fails the request unless the resolver attached a tenant id
// that resolves to a live handle. The handle is stored under ContextKeyHandle.
func RequireTenant(resolver HandleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := TenantID(c.Request.Context())
		if !ok {
			apperr.Respond(c, apperr.BadRequest("tenant_required", "Tenant identifier is required"))
			return
		}
		h, err := resolver.Resolve(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				apperr.Respond(c, apperr.NotFound("tenant_not_found", "Tenant not found"))
				return
			}
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.Set(ContextKeyHandle, h)
		c.Next()
	}
}

// HandleFrom returns the handle stored by RequireTenant.
func HandleFrom(c *gin.Context) (Handle, bool) {
	v, ok := c.Get(ContextKeyHandle)
	if !ok {
		return nil, false
	}
	h, ok := v.(Handle)
	return h, ok
}
