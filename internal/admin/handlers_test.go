package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/orders"
)

const testSecret = "s3cret-admin"

type toggleDispatcher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *toggleDispatcher) Dispatch(context.Context, *orders.Order, catalog.Pack) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

func (d *toggleDispatcher) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type harness struct {
	router     *gin.Engine
	svc        *orders.Service
	dispatcher *toggleDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{dispatcher: &toggleDispatcher{}}
	var tick atomic.Int64
	start := time.Now()
	clock := func() time.Time {
		return start.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
	h.svc = orders.NewService(orders.NewMemoryStore(),
		catalog.NewService(catalog.NewSeededMemoryStore()),
		orders.WithDispatcher(h.dispatcher), orders.WithClock(clock))

	h.router = gin.New()
	g := h.router.Group("")
	g.Use(RequireSecret(testSecret))
	NewHandler(h.svc, 30*time.Minute).RegisterRoutes(g)
	return h
}

func (h *harness) create(t *testing.T) *orders.Order {
	t.Helper()
	o, err := h.svc.Create(context.Background(), orders.CreateRequest{
		PackID: 1, CustomerName: "Caio Prado", CustomerEmail: "caio@example.com",
	})
	require.NoError(t, err)
	return o
}

func (h *harness) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(SecretHeader, testSecret)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

type listBody struct {
	Orders []orders.Order `json:"orders"`
	Count  int            `json:"count"`
}

func TestRequireSecret(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", SecretHeader, "nope", http.StatusUnauthorized},
		{"prefix only", SecretHeader, testSecret[:4], http.StatusUnauthorized},
		{"correct", SecretHeader, testSecret, http.StatusOK},
		{"legacy header", "X-Admin-Pass", testSecret, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRequireSecret_DisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/orders", RequireSecret(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set(SecretHeader, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListOrders(t *testing.T) {
	h := newHarness(t)
	first := h.create(t)
	second := h.create(t)
	_, err := h.svc.Apply(context.Background(), first.ID, orders.EventPaymentFailed)
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/admin/orders")
	require.Equal(t, http.StatusOK, w.Code)
	var all listBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)
	require.Len(t, all.Orders, 2)
	assert.Equal(t, second.ID, all.Orders[0].ID, "newest first")

	w = h.do(http.MethodGet, "/admin/orders?status=failed")
	require.Equal(t, http.StatusOK, w.Code)
	var failed listBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, first.ID, failed.Orders[0].ID)

	w = h.do(http.MethodGet, "/admin/orders?limit=1")
	var limited listBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Equal(t, 1, limited.Count)
}

func TestListOrders_InvalidStatus(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/admin/orders?status=refunded")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_status")
}

func TestFailedDeliveriesAndRedeliver(t *testing.T) {
	h := newHarness(t)
	ok := h.create(t)
	broken := h.create(t)

	_, err := h.svc.Apply(context.Background(), ok.ID, orders.EventPaymentConfirmed)
	require.NoError(t, err)

	h.dispatcher.setErr(errors.New("queue full"))
	_, err = h.svc.Apply(context.Background(), broken.ID, orders.EventPaymentConfirmed)
	require.NoError(t, err)
	h.dispatcher.setErr(nil)

	w := h.do(http.MethodGet, "/admin/deliveries/failed")
	require.Equal(t, http.StatusOK, w.Code)
	var failed listBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, broken.ID, failed.Orders[0].ID)

	w = h.do(http.MethodPost, "/admin/orders/"+broken.ID+"/redeliver")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 3, h.dispatcher.calls)

	got, err := h.svc.Get(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, got.Status)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, orders.DeliveryQueued, got.Delivery.State)

	// No longer failed, so a second redeliver conflicts.
	w = h.do(http.MethodPost, "/admin/orders/"+broken.ID+"/redeliver")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRedeliver_Errors(t *testing.T) {
	h := newHarness(t)
	pending := h.create(t)

	tests := []struct {
		name string
		id   string
		code int
		body string
	}{
		{"pending order", pending.ID, http.StatusConflict, "not_redeliverable"},
		{"unknown order", "ord_0123456789abcdef01234567", http.StatusNotFound, "order_not_found"},
		{"malformed id", "bogus", http.StatusNotFound, "order_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/admin/orders/"+tt.id+"/redeliver")
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	o := h.create(t)

	w := h.do(http.MethodPost, "/admin/orders/expire-stale")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expiredCount":0}`, w.Body.String())

	handler := NewHandler(h.svc, 30*time.Minute)
	handler.now = func() time.Time { return time.Now().Add(time.Hour) }
	r := gin.New()
	handler.RegisterRoutes(r.Group(""))

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/expire-stale", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expiredCount":1}`, rec.Body.String())

	got, err := h.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusExpired, got.Status)

	w = h.do(http.MethodPost, "/admin/orders/expire-stale?olderThan=soon")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
