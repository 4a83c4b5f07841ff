package webhooks

import (
	"errors"
	"testing"

	"github.com/mbd888/packshop/internal/orders"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    string
		ref     string
		event   orders.Event
		wantErr error
	}{
		{
			name:  "generic paid with payment_id",
			body:  `{"type":"payment.paid","data":{"payment_id":"PAY-1"}}`,
			kind:  "payment.paid",
			ref:   "PAY-1",
			event: orders.EventPaymentConfirmed,
		},
		{
			name:  "generic succeeded with data.id",
			body:  `{"id":"evt_1","type":"payment.succeeded","data":{"id":"PAY-2"}}`,
			kind:  "payment.succeeded",
			ref:   "PAY-2",
			event: orders.EventPaymentConfirmed,
		},
		{
			name:  "generic failed with reference",
			body:  `{"type":"payment.failed","data":{"reference":"PAY-3"}}`,
			kind:  "payment.failed",
			ref:   "PAY-3",
			event: orders.EventPaymentFailed,
		},
		{
			name:  "stripe metadata wins over object id",
			body:  `{"id":"evt_9","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","metadata":{"payment_reference":"PAY-4"}}}}`,
			kind:  "payment_intent.succeeded",
			ref:   "PAY-4",
			event: orders.EventPaymentConfirmed,
		},
		{
			name:  "compact form",
			body:  `{"event":"paid","ref":"PAY-5"}`,
			kind:  "paid",
			ref:   "PAY-5",
			event: orders.EventPaymentConfirmed,
		},
		{
			name:  "canceled expires",
			body:  `{"type":"payment.canceled","data":{"payment_id":"PAY-6"}}`,
			kind:  "payment.canceled",
			ref:   "PAY-6",
			event: orders.EventExpire,
		},
		{
			name: "unknown kind ignored without reference",
			body: `{"type":"customer.updated","data":{}}`,
			kind: "customer.updated",
		},
		{
			name:  "stripe object id without metadata",
			body:  `{"type":"charge.succeeded","data":{"object":{"id":"PAY-8"}}}`,
			kind:  "charge.succeeded",
			ref:   "PAY-8",
			event: orders.EventPaymentConfirmed,
		},
		{
			name:  "numeric data.id skipped in favour of payment_id",
			body:  `{"type":"payment.paid","data":{"id":42,"payment_id":"PAY-9"}}`,
			kind:  "payment.paid",
			ref:   "PAY-9",
			event: orders.EventPaymentConfirmed,
		},
		{
			name: "unknown kind with numeric ids ignored",
			body: `{"id":98765,"type":"customer.created","data":{"id":42}}`,
			kind: "customer.created",
		},
		{
			name: "unknown kind with array data ignored",
			body: `{"type":"subscription.updated","data":[1,2]}`,
			kind: "subscription.updated",
		},
		{
			name:    "known kind with array data has no reference",
			body:    `{"type":"payment.paid","data":[1,2]}`,
			wantErr: ErrMissingReference,
		},
		{
			name:    "known kind with only numeric reference fields",
			body:    `{"type":"payment.paid","data":{"id":42,"payment_id":7}}`,
			wantErr: ErrMissingReference,
		},
		{
			name:    "known kind without reference",
			body:    `{"type":"payment.paid","data":{}}`,
			wantErr: ErrMissingReference,
		},
		{
			name:    "missing type",
			body:    `{"data":{"payment_id":"PAY-7"}}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "not json",
			body:    `payment=paid`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", n.Kind, tt.kind)
			}
			if n.Reference != tt.ref {
				t.Errorf("reference = %q, want %q", n.Reference, tt.ref)
			}
			if n.Event != tt.event {
				t.Errorf("event = %q, want %q", n.Event, tt.event)
			}
			if n.Ignored() != (tt.event == "") {
				t.Errorf("Ignored() = %v", n.Ignored())
			}
		})
	}
}

func TestEventForKind_CaseInsensitive(t *testing.T) {
	ev, ok := EventForKind(" Payment.Paid ")
	if !ok || ev != orders.EventPaymentConfirmed {
		t.Fatalf("got %q %v", ev, ok)
	}
	if _, ok := EventForKind("refund.created"); ok {
		t.Fatal("refund.created should not map to an order event")
	}
}
