package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/validation"
)

// OrderService is the slice of orders.Service the admin surface uses.
type OrderService interface {
	List(ctx context.Context, filter orders.ListFilter) ([]*orders.Order, error)
	Redeliver(ctx context.Context, id string) (*orders.Order, error)
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	orders   OrderService
	orderTTL time.Duration
	now      func() time.Time
}

// NewHandler creates a new admin handler. orderTTL is the default age
// used by the expire-stale endpoint.
func NewHandler(svc OrderService, orderTTL time.Duration) *Handler {
	return &Handler{orders: svc, orderTTL: orderTTL, now: time.Now}
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/orders", h.listOrders)
	r.GET("/admin/deliveries/failed", h.listFailedDeliveries)
	r.POST("/admin/orders/:id/redeliver", validation.OrderIDParamMiddleware(), h.redeliver)
	r.POST("/admin/orders/expire-stale", h.expireStale)
}

func parseLimit(c *gin.Context, def, max int) int {
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= max {
			return parsed
		}
	}
	return def
}

// listOrders handles GET /admin/orders?status=&limit=, newest first.
func (h *Handler) listOrders(c *gin.Context) {
	filter := orders.ListFilter{Limit: parseLimit(c, 100, 500)}
	if s := c.Query("status"); s != "" {
		filter.Status = orders.Status(s)
		if !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "Unknown order status",
				"status":  s,
			})
			return
		}
	}

	list, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		logging.L(c.Request.Context()).Error("admin: list orders failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

// listFailedDeliveries returns delivered orders whose hand-off failed.
func (h *Handler) listFailedDeliveries(c *gin.Context) {
	list, err := h.orders.List(c.Request.Context(), orders.ListFilter{
		Status:        orders.StatusDelivered,
		DeliveryState: orders.DeliveryFailed,
		Limit:         parseLimit(c, 100, 500),
	})
	if err != nil {
		logging.L(c.Request.Context()).Error("admin: list failed deliveries failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": "Failed to list deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

// redeliver re-queues a failed delivery. The order status is not touched.
func (h *Handler) redeliver(c *gin.Context) {
	id := c.Param("id")
	ctx := logging.WithOrderID(c.Request.Context(), id)

	order, err := h.orders.Redeliver(ctx, id)
	switch {
	case err == nil:
		logging.L(ctx).Info("admin: redelivery queued")
		c.JSON(http.StatusAccepted, gin.H{"order": order, "requeued": true})
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found", "message": "Order not found"})
	case errors.Is(err, orders.ErrNotRedeliverable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_redeliverable",
			"message": "Only delivered orders with a failed delivery can be redelivered",
		})
	default:
		logging.L(ctx).Error("admin: redeliver failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": "Failed to redeliver"})
	}
}

// expireStale handles POST /admin/orders/expire-stale?olderThan=30m,
// running the expiry sweep on demand.
func (h *Handler) expireStale(c *gin.Context) {
	age := h.orderTTL
	if s := c.Query("olderThan"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "olderThan must be a positive duration"})
			return
		}
		age = d
	}
	if age <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "olderThan is required when ORDER_TTL is 0"})
		return
	}

	n, err := h.orders.ExpireStale(c.Request.Context(), h.now().UTC().Add(-age), parseLimit(c, 500, 5000))
	if err != nil {
		logging.L(c.Request.Context()).Error("admin: expire stale failed", "error", err, "expired", n)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "message": "Failed to expire orders", "expiredCount": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expiredCount": n})
}
