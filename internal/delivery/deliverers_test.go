package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/retry"
	"github.com/mbd888/packshop/internal/webhooks"
)

func deliveredOrder() *orders.Order {
	at := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	return &orders.Order{
		ID:            "ord_0123456789abcdef01234567",
		PackID:        2,
		CustomerName:  "Bia",
		CustomerEmail: "bia@example.com",
		Amount:        2290,
		Status:        orders.StatusDelivered,
		DeliveredAt:   &at,
	}
}

func TestHTTPDeliverer_SignedPost(t *testing.T) {
	const secret = "fulfilment-secret"
	var got Payload
	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifyErr = webhooks.NewHMACVerifier(secret, time.Minute).Verify(body, r.Header)
		_ = json.Unmarshal(body, &got)
		if r.Header.Get("X-Packshop-Event") != EventDelivered {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Idempotency-Key") != "ord_0123456789abcdef01234567" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, secret)
	pack := catalog.Pack{ID: 2, Name: "Pack Avançado", Content: "https://example.com/p2"}
	if err := d.Deliver(context.Background(), deliveredOrder(), pack); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if verifyErr != nil {
		t.Fatalf("signature did not verify: %v", verifyErr)
	}
	if got.Content != "https://example.com/p2" || got.CustomerEmail != "bia@example.com" || got.Amount != 2290 {
		t.Errorf("unexpected payload: %+v", got)
	}
	if got.DeliveredAt.IsZero() {
		t.Error("deliveredAt missing from payload")
	}
}

func TestHTTPDeliverer_StatusClasses(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPDeliverer(srv.URL, "").Deliver(context.Background(), deliveredOrder(), catalog.Pack{ID: 2})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var pe *retry.PermanentError
			if errors.As(err, &pe) != tt.permanent {
				t.Fatalf("permanent = %v, want %v (err %v)", !tt.permanent, tt.permanent, err)
			}
		})
	}
}

func TestHTTPDeliverer_URLValidator(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, "", WithURLValidator(func(string) error {
		return errors.New("loopback addresses are not allowed")
	}))
	err := d.Deliver(context.Background(), deliveredOrder(), catalog.Pack{})
	var pe *retry.PermanentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if called {
		t.Fatal("request sent despite rejected URL")
	}
}

func TestHTTPDeliverer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPDeliverer(url, "", WithHTTPClient(&http.Client{Timeout: time.Second})).
		Deliver(context.Background(), deliveredOrder(), catalog.Pack{})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	var pe *retry.PermanentError
	if errors.As(err, &pe) {
		t.Fatal("transport errors should be retryable")
	}
}

func TestLogDeliverer(t *testing.T) {
	d := NewLogDeliverer(discardLogger())
	if d.Name() != "log" {
		t.Fatalf("Name() = %q", d.Name())
	}
	if err := d.Deliver(context.Background(), deliveredOrder(), catalog.Pack{Content: "x"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}
