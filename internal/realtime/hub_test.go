package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/packshop/internal/orders"
)

const testOrderID = "ord_0123456789abcdef01234567"

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestShouldSend_OrderFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{OrderIDs: []string{testOrderID}}}

	if !h.shouldSend(client, &Event{Type: EventOrderStatusChanged, OrderID: testOrderID}) {
		t.Error("should receive events for subscribed order")
	}
	if h.shouldSend(client, &Event{Type: EventOrderStatusChanged, OrderID: "ord_other"}) {
		t.Error("should NOT receive events for other orders")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		OrderIDs:   []string{testOrderID},
		EventTypes: []EventType{EventOrderDeliveryUpdated},
	}}

	if h.shouldSend(client, &Event{Type: EventOrderStatusChanged, OrderID: testOrderID}) {
		t.Error("status_changed should be filtered out")
	}
	if !h.shouldSend(client, &Event{Type: EventOrderDeliveryUpdated, OrderID: testOrderID}) {
		t.Error("delivery_updated should be delivered")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	if h.shouldSend(&Client{}, &Event{Type: EventOrderCreated, OrderID: testOrderID}) {
		t.Error("client without orders should receive nothing")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 8),
		sub:  Subscription{OrderIDs: []string{testOrderID}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_OrderEventReachesSubscriber(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 8),
		sub:  Subscription{OrderIDs: []string{testOrderID}},
	}
	h.register <- client

	h.OrderEvent(orders.NotifyStatusChanged, &orders.Order{ID: testOrderID, Status: orders.StatusDelivered})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventOrderStatusChanged || ev.OrderID != testOrderID {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Order == nil || ev.Order.Status != orders.StatusDelivered {
			t.Errorf("expected delivered order snapshot, got %+v", ev.Order)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHandleWebSocket_RequiresOrderID(t *testing.T) {
	h := testHub()
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleWebSocket_StreamsOrderEvents(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?orderId=" + testOrderID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Stats()["connectedClients"].(int) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.OrderEvent(orders.NotifyStatusChanged, &orders.Order{ID: "ord_ffffffffffffffffffffffff"})
	h.OrderEvent(orders.NotifyDeliveryUpdated, &orders.Order{ID: testOrderID, Status: orders.StatusDelivered})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.OrderID != testOrderID || ev.Type != EventOrderDeliveryUpdated {
		t.Fatalf("unexpected event %+v", ev)
	}
}
