package traces

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", slog.Default())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "tenancy.Resolve", TenantID("t_1"), Namespace("tenant_acme"))
	defer span.End()

	assert.NotNil(t, ctx)
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "tenant.id", string(TenantID("x").Key))
	assert.Equal(t, "payment.reference", string(Reference("r").Key))
	assert.Equal(t, "plan.code", string(PlanCode("PLN_1").Key))
	assert.Equal(t, "webhook.event", string(Event("charge.success").Key))
	assert.Equal(t, "subscription.code", string(SubscriptionCode("SUB_1").Key))
}

func TestMiddleware_ContinuesPropagatedTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, err := Init(context.Background(), "", slog.Default())
	require.NoError(t, err)

	var got trace.SpanContext
	r := gin.New()
	r.Use(Middleware())
	r.GET("/plans", func(c *gin.Context) {
		got = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
