package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("tenant_not_found", "Tenant not found"), KindNotFound},
		{"wrapped conflict", fmt.Errorf("provision: %w", Conflict("slug_taken", "taken")), KindConflict},
		{"bad request", BadRequest("invalid", "bad"), KindBadRequest},
		{"unauthorized", Unauthorized("invalid_signature", "nope"), KindUnauthorized},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindBadRequest.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindInternal, "db_error", "Database unavailable", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRespond(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"classified", NotFound("plan_not_found", "Plan not found or inactive"), http.StatusNotFound, "plan_not_found", "Plan not found or inactive"},
		{"raw error hides detail", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "internal_error", "An internal error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			Respond(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.True(t, c.IsAborted())
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, http.StatusCreated, "Tenant created", gin.H{"slug": "acme"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Tenant created", body.Message)
	assert.Equal(t, "acme", body.Data["slug"])
}
