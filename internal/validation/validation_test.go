package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+2348012345678", true},
		{"0801 234 5678", true},
		{"(080) 123-4567", true},

		// Invalid cases
		{"12345", false}, // Too short
		{"+234801234567890123456", false},
		{"080-CALL-NOW", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidPhone(tc.phone)
		if result != tc.valid {
			t.Errorf("IsValidPhone(%q) = %v, want %v", tc.phone, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("company_name", "Crumbs & Co"),
		ValidPhone("company_phone_number", "+2348012345678"),
		ValidPhone("company_phone_number", ""),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("company_name", "  "),
		ValidPhone("company_phone_number", "call me"),
	)
	if len(errors) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errors))
	}
	if errors.Error() != "company_name: is required" {
		t.Errorf("unexpected error string %q", errors.Error())
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/tenants/:tenantID", IDParamMiddleware("tenantID"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		path string
		code int
	}{
		{"/tenants/6f1c2a4e-8a7b-4c3d-9e2f-0a1b2c3d4e5f", http.StatusOK},
		{"/tenants/not-a-uuid", http.StatusBadRequest},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.code {
			t.Errorf("%s: got %d, want %d", tc.path, w.Code, tc.code)
		}
		if tc.code == http.StatusBadRequest && !strings.Contains(w.Body.String(), "invalid_tenantID") {
			t.Errorf("unexpected body %s", w.Body.String())
		}
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"company_name":"too long"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected oversized body to fail, got %d", w.Code)
	}
}

type signUpBody struct {
	CompanyName  string `json:"company_name" binding:"required"`
	CompanyEmail string `json:"company_email" binding:"required,email"`
	Password     string `json:"password" binding:"omitempty,min=6"`
}

func bindErrors(t *testing.T, body string) ValidationErrors {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst signUpBody
	err := c.ShouldBindJSON(&dst)
	if err == nil {
		t.Fatalf("expected bind error for %s", body)
	}
	return FromBindError(err)
}

func TestFromBindError_FieldMessages(t *testing.T) {
	errs := bindErrors(t, `{"company_email":"not-an-email","password":"abc"}`)

	got := map[string]string{}
	for _, e := range errs {
		got[e.Field] = e.Message
	}
	if got["company_name"] != "is required" {
		t.Errorf("company_name: got %q", got["company_name"])
	}
	if got["company_email"] != "must be a valid email address" {
		t.Errorf("company_email: got %q", got["company_email"])
	}
	if got["password"] != "must be at least 6 characters" {
		t.Errorf("password: got %q", got["password"])
	}
}

func TestFromBindError_MalformedJSON(t *testing.T) {
	errs := bindErrors(t, `{"company_name":`)
	if len(errs) != 1 || errs[0].Field != "body" {
		t.Fatalf("expected a single body error, got %v", errs)
	}
}
