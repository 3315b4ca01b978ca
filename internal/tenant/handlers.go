package tenant

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/pagination"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler provides admin HTTP endpoints for the tenant registry.
// Tenant creation lives in the provisioning package.
type Handler struct {
	store Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up the API-key protected registry routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants", h.ListTenants)
	r.GET("/tenants/:tenantID", h.GetTenant)
	r.PATCH("/tenants/:tenantID/status", h.UpdateStatus)
}

// ---------- Admin endpoints ----------

// ListTenants handles GET /tenants?limit=&cursor=.
func (h *Handler) ListTenants(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"), defaultPageSize, maxPageSize)
	if err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_limit", "limit must be a positive integer"))
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_cursor", "cursor is malformed"))
		return
	}

	tenants, err := h.store.ListPage(c.Request.Context(), limit+1, cursor)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	page := pagination.Paginate(tenants, limit, func(t *Tenant) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"message":     "Tenants retrieved",
		"data":        page.Items,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// GetTenant handles GET /tenants/:tenantID.
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("tenantID"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Tenant retrieved", t)
}

// UpdateStatus handles PATCH /tenants/:tenantID/status. Used by operators to
// suspend or reinstate a tenant outside the billing flow.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_request", "status is required"))
		return
	}
	ctx := c.Request.Context()
	id := c.Param("tenantID")
	if err := h.store.UpdateStatus(ctx, id, req.Status); err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	t, err := h.store.Get(ctx, id)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Tenant status updated", t)
}

// mapError classifies registry errors for HTTP callers.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrTenantNotFound):
		return apperr.Wrap(apperr.KindNotFound, "tenant_not_found", "Tenant not found", err)
	case errors.Is(err, ErrSlugTaken):
		return apperr.Wrap(apperr.KindConflict, "tenant_exists", "A tenant with this company name already exists", err)
	case errors.Is(err, ErrInvalidStatus):
		return apperr.Wrap(apperr.KindBadRequest, "invalid_status", "Unknown tenant status", err)
	}
	return err
}

// MapError is mapError for other packages that surface registry errors.
func MapError(err error) error { return mapError(err) }
