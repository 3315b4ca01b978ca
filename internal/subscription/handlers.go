package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/paystack"
	"github.com/mbd888/bakehouse/internal/plans"
	"github.com/mbd888/bakehouse/internal/tenant"
)

const (
	maxWebhookBody = 1 << 20
	webhookTimeout = 30 * time.Second
)

// Handler provides HTTP endpoints for subscriptions.
type Handler struct {
	service *Service
	secret  string
	logger  *slog.Logger
}

// NewHandler creates a subscription handler. secret keys the webhook HMAC.
func NewHandler(service *Service, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, secret: secret, logger: logger}
}

// RegisterRoutes sets up the public subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/subscriptions/webhook", h.Webhook)
	r.POST("/subscriptions/initialize", h.Initialize)
	r.GET("/subscriptions/tenant/:tenantID", h.GetByTenant)
}

// RegisterAdminRoutes sets up the API-key protected routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/subscriptions/:id/cancel", h.Cancel)
}

// Webhook handles POST /subscriptions/webhook. Once the signature checks
// out the event is always acknowledged; local failures are logged, since
// a processor retry cannot fix them.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_body", "Could not read request body"))
		return
	}

	if err := VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)); err != nil {
		h.logger.Warn("webhook rejected", "error", err, "ip", c.ClientIP())
		apperr.Respond(c, apperr.Wrap(apperr.KindUnauthorized, "invalid_signature", "Invalid webhook signature", err))
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Warn("webhook body not decodable", "error", err)
		apperr.OK(c, http.StatusOK, "Webhook received", nil)
		return
	}

	// The processor's connection may drop before processing finishes.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), webhookTimeout)
	defer cancel()
	outcome, _ := h.service.HandleWebhook(ctx, ev)

	apperr.OK(c, http.StatusOK, "Webhook received", gin.H{"event": ev.Event, "outcome": outcome})
}

// Initialize handles POST /subscriptions/initialize.
func (h *Handler) Initialize(c *gin.Context) {
	var in InitializeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apperr.Respond(c, apperr.BadRequest("validation_error", "tenant_slug, plan_code and a valid email are required"))
		return
	}

	res, err := h.service.Initialize(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Subscription initialized", res)
}

// GetByTenant handles GET /subscriptions/tenant/:tenantID.
func (h *Handler) GetByTenant(c *gin.Context) {
	sub, err := h.service.FindByTenant(c.Request.Context(), c.Param("tenantID"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Subscription retrieved", sub)
}

// Cancel handles POST /subscriptions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Subscription canceled", sub)
}

// mapError classifies subscription errors for HTTP callers.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return apperr.Wrap(apperr.KindNotFound, "subscription_not_found", "Subscription not found", err)
	case errors.Is(err, ErrAlreadyActive):
		return apperr.Wrap(apperr.KindBadRequest, "subscription_active", "Tenant already has an active subscription", err)
	case errors.Is(err, tenant.ErrTenantNotFound):
		return tenant.MapError(err)
	case errors.Is(err, plans.ErrPlanNotFound), errors.Is(err, paystack.ErrUnavailable):
		return plans.MapError(err)
	}
	return err
}
