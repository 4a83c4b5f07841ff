package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/orders"
)

// MaxPayloadSize caps a notification body.
const MaxPayloadSize = 256 << 10

// Handler exposes the payment notification endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up webhook routes. /webhook/sunize is kept for
// gateways still configured with the old callback URL.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payment", h.ReceivePayment)
	r.POST("/webhook/sunize", h.ReceivePayment)
}

// ReceivePayment handles POST /webhooks/payment
func (h *Handler) ReceivePayment(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxPayloadSize+1))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || (err == nil && len(payload) > MaxPayloadSize) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "payload_too_large",
			"message": "Notification body too large",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	res, err := h.service.Ingest(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Notification signature could not be verified",
			})
		case errors.Is(err, ErrMissingReference):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "missing_reference",
				"message": "Notification has no payment reference",
			})
		case errors.Is(err, ErrMalformed):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Malformed notification",
			})
		case errors.Is(err, orders.ErrReferenceNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "reference_not_found",
				"message": "No order for payment reference",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to process payment notification", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "storage_error",
				"message": "Failed to process notification",
			})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}
