package orders

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/validation"
)

// Handler provides HTTP endpoints for orders.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", validation.OrderIDParamMiddleware(), h.GetOrder)
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	order, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
		case errors.Is(err, catalog.ErrPackNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "pack_not_found",
				"message": "Pack not found",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to create order", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "storage_error",
				"message": "Failed to create order",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":             order.ID,
		"paymentReference":    order.PaymentReference,
		"paymentPresentation": order.PaymentPresentation,
		"amount":              order.Amount,
		"status":              order.Status,
	})
}

// GetOrder handles GET /orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "order_not_found",
				"message": "Order not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to load order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to load order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}
