// Package validation provides request validators and input middleware for the shop API.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// Field limits for customer input.
const (
	MaxNameLength  = 200
	MaxEmailLength = 254
)

var (
	// local@domain.tld, no whitespace, at least one dot in the domain
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// ord_ followed by 24 hex chars
	orderIDRegex = regexp.MustCompile(`^ord_[a-f0-9]{24}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail reports whether s is a syntactically plausible email address.
func IsValidEmail(s string) bool {
	return len(s) <= MaxEmailLength && emailRegex.MatchString(s)
}

// IsValidOrderID reports whether s looks like an order id.
func IsValidOrderID(s string) bool {
	return orderIDRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips NUL bytes and truncates to maxLen runes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidEmail checks an email field. Empty values pass; combine with Required.
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return nil
		}
		if !IsValidEmail(strings.TrimSpace(value)) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// PositiveID checks that an integer identifier is > 0.
func PositiveID(field string, value int64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be a positive integer"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length in runes.
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if utf8.RuneCountInString(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OrderIDParamMiddleware rejects malformed :id params before they reach a store.
func OrderIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidOrderID(id) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "order_not_found",
				"message": "Order not found",
			})
			return
		}
		c.Next()
	}
}
