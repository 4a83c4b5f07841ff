package orders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/packshop/internal/catalog"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewService(NewMemoryStore(), catalog.NewService(catalog.NewSeededMemoryStore()),
		WithDispatcher(&recordingDispatcher{}))
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group(""))
	return r, svc
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetOrder(t *testing.T) {
	router, svc := setupTestRouter(t)

	w := postJSON(router, "/orders", map[string]any{
		"packId":        2,
		"customerName":  "Bia Lima",
		"customerEmail": "bia@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		OrderID             string `json:"orderId"`
		PaymentReference    string `json:"paymentReference"`
		PaymentPresentation string `json:"paymentPresentation"`
		Amount              int64  `json:"amount"`
		Status              string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(2290), created.Amount)
	assert.Equal(t, "pending_payment", created.Status)
	assert.NotEmpty(t, created.PaymentReference)
	assert.Contains(t, created.PaymentPresentation, created.PaymentReference)

	req := httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Order map[string]any `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.OrderID, got.Order["id"])
	assert.Equal(t, "pending_payment", got.Order["status"])
	assert.NotContains(t, got.Order, "packContent")

	_, err := svc.Apply(req.Context(), created.OrderID, EventPaymentConfirmed)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "delivered", got.Order["status"])
	assert.NotNil(t, got.Order["deliveredAt"])
}

func TestHandler_CreateOrderErrors(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed body", "not-an-object", http.StatusBadRequest, "invalid_request"},
		{"missing fields", map[string]any{"packId": 1}, http.StatusBadRequest, "validation_error"},
		{"bad email", map[string]any{"packId": 1, "customerName": "A", "customerEmail": "nope"}, http.StatusBadRequest, "validation_error"},
		{"unknown pack", map[string]any{"packId": 99, "customerName": "A", "customerEmail": "a@example.com"}, http.StatusNotFound, "pack_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/orders", tt.body)
			assert.Equal(t, tt.status, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["error"])
		})
	}
}

func TestHandler_GetOrderNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	for _, id := range []string{"ord_0123456789abcdef01234567", "not-an-id"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, id)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "order_not_found", resp["error"])
	}
}
