package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbd888/bakehouse/internal/tenancy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Test Setup ---

func setupRouter(t *testing.T) (*gin.Engine, *MemoryStores) {
	t.Helper()
	stores := NewMemoryStores()
	handle := tenancy.NewMemoryHandle("tenant_crumbs")
	st, err := stores.For(handle)
	require.NoError(t, err)
	_, err = Seed(context.Background(), st)
	require.NoError(t, err)

	svc := NewService(&recordingSender{}, nil, "https://app.test", nil).WithHashCost(bcrypt.MinCost)
	r := gin.New()
	group := r.Group("/tenants/:tenantID", func(c *gin.Context) {
		c.Set(tenancy.ContextKeyHandle, tenancy.Handle(handle))
		c.Next()
	})
	NewHandler(stores, svc, nil).RegisterRoutes(group)
	return r, stores
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
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
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// --- Tests ---

func TestHandler_CreateAndListUsers(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodPost, "/tenants/t1/users", map[string]string{
		"first_name": "Ada", "last_name": "Baker", "email": "ada@crumbs.test", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, "User created", env.Message)
	assert.NotContains(t, string(env.Data), "password")

	w = doRequest(r, http.MethodPost, "/tenants/t1/users", map[string]string{
		"first_name": "Ada", "last_name": "Baker", "email": "ada@crumbs.test", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "email_taken", decode(t, w).Error)

	w = doRequest(r, http.MethodGet, "/tenants/t1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &users))
	assert.Len(t, users, 1)
}

func TestHandler_CreateUserValidation(t *testing.T) {
	r, _ := setupRouter(t)
	w := doRequest(r, http.MethodPost, "/tenants/t1/users", map[string]string{"first_name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w).Error)
}

func TestHandler_GetUnknownUser(t *testing.T) {
	r, _ := setupRouter(t)
	w := doRequest(r, http.MethodGet, "/tenants/t1/users/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user_not_found", decode(t, w).Error)
}

func TestHandler_ReferenceData(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/tenants/t1/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roles []Role
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &roles))
	assert.Len(t, roles, len(DefaultRoles))

	w = doRequest(r, http.MethodGet, "/tenants/t1/selections/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &roles))
	assert.Len(t, roles, len(DefaultRoles)-1)

	w = doRequest(r, http.MethodGet, "/tenants/t1/departments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var departments []Department
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &departments))
	assert.Len(t, departments, len(DefaultDepartments))
}

func TestHandler_NotificationFlow(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodPost, "/tenants/t1/notifications", map[string]string{"message": "Ovens on at 5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var n Notification
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &n))

	w = doRequest(r, http.MethodGet, "/tenants/t1/notifications/unread-count?user_id=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(decode(t, w).Data))

	w = doRequest(r, http.MethodPatch, "/tenants/t1/notifications/"+n.ID+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPatch, "/tenants/t1/notifications/read-all?user_id=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":0}`, string(decode(t, w).Data))

	w = doRequest(r, http.MethodPatch, "/tenants/t1/notifications/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RequiresHandle(t *testing.T) {
	svc := NewService(&recordingSender{}, nil, "", nil)
	r := gin.New()
	NewHandler(NewMemoryStores(), svc, nil).RegisterRoutes(r.Group("/tenants/:tenantID"))

	w := doRequest(r, http.MethodGet, "/tenants/t1/roles", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenant_required", decode(t, w).Error)
}

func TestMemoryStores_Forget(t *testing.T) {
	stores := NewMemoryStores()
	_, err := stores.For(tenancy.NewMemoryHandle("tenant_a"))
	require.NoError(t, err)
	assert.Equal(t, 1, stores.Len())
	stores.Forget("tenant_a")
	assert.Equal(t, 0, stores.Len())
}

func TestPostgresStores_RejectsMemoryHandle(t *testing.T) {
	_, err := PostgresStores{}.For(tenancy.NewMemoryHandle("tenant_a"))
	assert.ErrorIs(t, err, ErrUnsupportedHandle)
}
