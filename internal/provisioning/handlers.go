package provisioning

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/validation"
)

// Handler exposes tenant sign-up.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates a provisioning handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes sets up the public sign-up route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
}

// CreateTenant handles POST /tenants.
func (h *Handler) CreateTenant(c *gin.Context) {
	var in CreateTenantInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apperr.Respond(c, apperr.BadRequest("validation_error", validation.FromBindError(err).Error()))
		return
	}

	in.CompanyName = validation.SanitizeString(in.CompanyName, validation.MaxStringLength)
	in.CompanyPhoneNumber = validation.SanitizeString(in.CompanyPhoneNumber, validation.MaxStringLength)
	if errs := validation.Validate(
		validation.Required("company_name", in.CompanyName),
		validation.MaxLength("company_name", in.CompanyName, validation.MaxNameLength),
		validation.ValidPhone("company_phone_number", in.CompanyPhoneNumber),
	); len(errs) > 0 {
		apperr.Respond(c, apperr.BadRequest("validation_error", errs.Error()))
		return
	}

	t, err := h.pipeline.CreateTenant(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	apperr.OK(c, http.StatusCreated, "Tenant created", t)
}
