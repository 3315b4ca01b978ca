package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bakehouse/internal/config"
	"github.com/mbd888/bakehouse/internal/directory"
	"github.com/mbd888/bakehouse/internal/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// captureSender records outbound mail instead of sending it
type captureSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *captureSender) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		PaystackBaseURL:   "http://127.0.0.1:1",
		PaystackSecretKey: "sk_test",
		PaystackTimeout:   time.Second,
		TenantDBMaxOpen:   1,
		APIKey:            "k_operator",
		FrontEndURL:       "https://app.bakehouse.test",
		RateLimitRPM:      6000,
	}
}

// newTestServer creates an in-memory server with a capturing mail sender
func newTestServer(t *testing.T) (*Server, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	s, err := New(testConfig(), WithSender(sender), WithDrainDelay(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, sender
}

func do(s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// signUp provisions a tenant and returns its id
func signUp(t *testing.T, s *Server, company string) string {
	t.Helper()
	w := do(s, http.MethodPost, "/tenants", map[string]string{
		"company_name":  company,
		"company_email": "owner@" + strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".test",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var tn struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &tn))
	assert.Equal(t, "pending", tn.Status)
	return tn.ID
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)

	names := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"tenant_pool", "paystack"}, names)
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	// Not ready until Run marks it
	w := do(s, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.ready.Store(true)
	w = do(s, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	do(s, http.MethodGet, "/plans", nil, nil)
	w := do(s, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bakehouse_http_requests_total")
}

func TestSignUpThenTenantDirectory(t *testing.T) {
	s, sender := newTestServer(t)
	id := signUp(t, s, "Crumbs and Co")

	w := do(s, http.MethodPost, "/tenants/"+id+"/users", map[string]string{
		"first_name": "Ada", "last_name": "Baker", "email": "ada@crumbs.test", "password": "secret1",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(s, http.MethodGet, "/tenants/"+id+"/roles", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), directory.ManagerRole)

	s.pipeline.Wait()
	assert.GreaterOrEqual(t, sender.count(), 1)
	assert.Equal(t, 1, s.pool.Size())
}

func TestSignUpDuplicateCompany(t *testing.T) {
	s, _ := newTestServer(t)
	signUp(t, s, "Rye House")

	w := do(s, http.MethodPost, "/tenants", map[string]string{
		"company_name": "Rye House", "company_email": "other@rye.test",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "tenant_exists", decode(t, w).Error)
}

func TestTenantRoutesValidateAndResolve(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/tenants/not-a-uuid/users", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/tenants/6f1c2a4e-8a7b-4c3d-9e2f-0a1b2c3d4e5f/users", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "tenant_not_found", decode(t, w).Error)
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	signUp(t, s, "Sourdough Ltd")

	w := do(s, http.MethodGet, "/admin/tenants", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/admin/tenants", nil, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/admin/tenants", nil, map[string]string{"x-api-key": "k_operator"})
	require.Equal(t, http.StatusOK, w.Code)
	var tenants []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &tenants))
	assert.Len(t, tenants, 1)

	w = do(s, http.MethodGet, "/admin/stats", nil, map[string]string{"x-api-key": "k_operator"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_handles")
}

func TestWebhookRequiresSignature(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/subscriptions/webhook", map[string]any{"event": "charge.success"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_signature", decode(t, w).Error)
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/plans", nil, map[string]string{"Origin": "https://app.bakehouse.test"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "https://app.bakehouse.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/nonexistent", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://bake:secret@db:5432/bakehouse")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "bake:")
	assert.Equal(t, "***", maskDSN("://bad"))
}
