package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Test Setup ---

func setupRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &Tenant{
		ID:           "ten_1",
		CompanyName:  "Test Bakery",
		CompanyEmail: "owner@test.bakery",
		Slug:         "test-bakery",
		Status:       StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}))

	r := gin.New()
	NewHandler(store).RegisterAdminRoutes(r.Group(""))
	return r, store
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

// --- GetTenant ---

func TestGetTenant(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/tenants/ten_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got Tenant
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, "test-bakery", got.Slug)
	assert.Equal(t, "Test Bakery", got.CompanyName)
}

func TestGetTenant_NotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/tenants/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "tenant_not_found", decode(t, w).Error)
}

// --- ListTenants ---

func TestListTenants(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []Tenant
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Len(t, got, 1)
}

func TestListTenants_Paginates(t *testing.T) {
	r, store := setupRouter(t)
	base := time.Now()
	for i, slug := range []string{"b", "c"} {
		require.NoError(t, store.Create(context.Background(), &Tenant{
			ID: "ten_" + slug, CompanyName: slug, CompanyEmail: slug + "@test.bakery", Slug: slug,
			Status: StatusActive, CreatedAt: base.Add(time.Duration(i+1) * time.Hour), UpdatedAt: base,
		}))
	}

	type page struct {
		Data       []Tenant `json:"data"`
		NextCursor string   `json:"next_cursor"`
		HasMore    bool     `json:"has_more"`
	}
	get := func(path string) page {
		w := doRequest(r, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var p page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		return p
	}

	first := get("/tenants?limit=2")
	require.Len(t, first.Data, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "ten_1", first.Data[0].ID)

	second := get("/tenants?limit=2&cursor=" + first.NextCursor)
	require.Len(t, second.Data, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "ten_c", second.Data[0].ID)
}

func TestListTenants_BadQuery(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/tenants?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_limit", decode(t, w).Error)

	w = doRequest(r, http.MethodGet, "/tenants?cursor=not-base64!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- UpdateStatus ---

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		body       any
		wantStatus int
		wantError  string
	}{
		{"suspend", "ten_1", gin.H{"status": "suspended"}, http.StatusOK, ""},
		{"unknown status", "ten_1", gin.H{"status": "frozen"}, http.StatusBadRequest, "invalid_status"},
		{"missing body", "ten_1", gin.H{}, http.StatusBadRequest, "invalid_request"},
		{"missing tenant", "nope", gin.H{"status": "active"}, http.StatusNotFound, "tenant_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := setupRouter(t)

			w := doRequest(r, http.MethodPatch, "/tenants/"+tt.tenantID+"/status", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode(t, w).Error)
				return
			}
			got, err := store.Get(context.Background(), tt.tenantID)
			require.NoError(t, err)
			assert.Equal(t, StatusSuspended, got.Status)
		})
	}
}
