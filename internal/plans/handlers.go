package plans

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/paystack"
)

// Handler provides HTTP endpoints for the plan catalog.
type Handler struct {
	service *Service
}

// NewHandler creates a new plan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.GET("/plans/:code", h.GetPlan)
}

// RegisterAdminRoutes sets up the API-key protected sync routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/plans/sync", h.SyncAll)
	r.POST("/plans/sync/:code", h.SyncOne)
}

// ListPlans handles GET /plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.FindAll(c.Request.Context())
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	if plans == nil {
		plans = []*Plan{}
	}
	apperr.OK(c, http.StatusOK, "Plans retrieved", plans)
}

// GetPlan handles GET /plans/:code.
func (h *Handler) GetPlan(c *gin.Context) {
	p, err := h.service.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Plan retrieved", p)
}

// SyncAll handles POST /plans/sync.
func (h *Handler) SyncAll(c *gin.Context) {
	res, err := h.service.SyncAll(c.Request.Context())
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Plans synced", res)
}

// SyncOne handles POST /plans/sync/:code.
func (h *Handler) SyncOne(c *gin.Context) {
	p, outcome, err := h.service.SyncOne(c.Request.Context(), c.Param("code"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Plan synced", gin.H{"plan": p, "outcome": outcome})
}

// mapError classifies plan errors for HTTP callers.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		return apperr.Wrap(apperr.KindNotFound, "plan_not_found", "Plan not found", err)
	case errors.Is(err, paystack.ErrUnavailable):
		return apperr.Wrap(apperr.KindInternal, "processor_unavailable", "Payment processor unavailable", err)
	}
	return err
}

// MapError is mapError for other packages that surface plan errors.
func MapError(err error) error { return mapError(err) }
