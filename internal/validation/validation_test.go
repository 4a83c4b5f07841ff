package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"ana@example.com", true},
		{"first.last+tag@sub.example.com.br", true},
		{"ana@example", false},
		{"ana example@example.com", false},
		{"@example.com", false},
		{"ana@", false},
		{"", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tc := range tests {
		if got := IsValidEmail(tc.email); got != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.email, got, tc.valid)
		}
	}
}

func TestIsValidOrderID(t *testing.T) {
	if !IsValidOrderID("ord_0123456789abcdef01234567") {
		t.Error("expected well-formed id to pass")
	}
	for _, bad := range []string{"", "ord_", "ord_XYZ", "esc_0123456789abcdef01234567", "ord_0123456789abcdef0123456"} {
		if IsValidOrderID(bad) {
			t.Errorf("IsValidOrderID(%q) should be false", bad)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"  Ana  ", 10, "Ana"},
		{"Ana\x00Maria", 20, "AnaMaria"},
		{"João da Silva", 4, "João"},
	}
	for _, tc := range tests {
		if got := SanitizeString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("customerName", "  "),
		ValidEmail("customerEmail", "nope"),
		PositiveID("packId", 0),
		MaxLength("customerName", "ok", 10),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "customerName" || errs.Error() != "customerName: is required" {
		t.Errorf("unexpected first error: %v", errs[0])
	}

	if errs := Validate(Required("a", "x"), ValidEmail("b", ""), PositiveID("c", 3)); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestOrderIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/orders/:id", OrderIDParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orders/not-an-id", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed id, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orders/ord_0123456789abcdef01234567", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for valid id, got %d", w.Code)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}
