// Package webhooks ingests payment gateway notifications.
//
// A notification is verified, parsed into a payment reference and an
// event kind, correlated to its order and applied through the order
// state machine. Duplicates and replays resolve to success without
// mutating anything, so the gateway stops redelivering.
package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mbd888/packshop/internal/orders"
)

var (
	ErrUnauthenticated  = errors.New("webhooks: notification failed verification")
	ErrMalformed        = errors.New("webhooks: malformed notification")
	ErrMissingReference = errors.New("webhooks: notification has no payment reference")
)

// Status is the outcome reported back to the gateway.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
	StatusRejected  Status = "rejected"
)

// kinds maps gateway event kinds onto order events. Kinds not listed
// are acknowledged and ignored.
var kinds = map[string]orders.Event{
	"paid":                          orders.EventPaymentConfirmed,
	"payment.paid":                  orders.EventPaymentConfirmed,
	"payment.succeeded":             orders.EventPaymentConfirmed,
	"payment_intent.succeeded":      orders.EventPaymentConfirmed,
	"charge.succeeded":              orders.EventPaymentConfirmed,
	"failed":                        orders.EventPaymentFailed,
	"payment.failed":                orders.EventPaymentFailed,
	"payment.declined":              orders.EventPaymentFailed,
	"payment_intent.payment_failed": orders.EventPaymentFailed,
	"charge.failed":                 orders.EventPaymentFailed,
	"payment.expired":               orders.EventExpire,
	"payment.canceled":              orders.EventExpire,
	"payment_intent.canceled":       orders.EventExpire,
}

// EventForKind returns the order event for a gateway event kind.
func EventForKind(kind string) (orders.Event, bool) {
	ev, ok := kinds[strings.ToLower(strings.TrimSpace(kind))]
	return ev, ok
}

// Notification is a parsed gateway notification.
type Notification struct {
	ID        string
	Kind      string
	Reference string
	Event     orders.Event // empty when the kind is not acted on
}

// Ignored reports whether the notification kind has no order event.
func (n *Notification) Ignored() bool {
	return n.Event == ""
}

// envelope holds only the fields every gateway agrees on. Everything else
// stays raw until the kind is known to be acted on, so odd shapes in
// notifications we ignore never fail the request.
type envelope struct {
	ID    json.RawMessage `json:"id"`
	Type  json.RawMessage `json:"type"`
	Event json.RawMessage `json:"event"`
	Ref   json.RawMessage `json:"ref"`
	Data  json.RawMessage `json:"data"`
}

// Parse decodes a notification body. It accepts the generic gateway
// envelope, Stripe-style events carrying the reference in
// data.object.metadata.payment_reference or data.object.id, and the
// compact {"event": ..., "ref": ...} form.
//
// An unrecognized kind parses successfully and is marked ignored
// before data is looked at. Reference fields that are not strings are
// skipped rather than rejected.
func Parse(payload []byte) (*Notification, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	n := &Notification{ID: rawText(env.ID), Kind: rawString(env.Type)}
	if n.Kind == "" {
		n.Kind = rawString(env.Event)
	}
	if n.Kind == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformed)
	}

	ev, ok := EventForKind(n.Kind)
	if !ok {
		return n, nil
	}
	n.Event = ev

	var data map[string]any
	if len(env.Data) > 0 {
		// data that is not an object carries no reference
		_ = json.Unmarshal(env.Data, &data)
	}
	object := asMap(data["object"])
	metadata := asMap(object["metadata"])

	n.Reference = firstNonEmpty(
		asString(metadata["payment_reference"]),
		asString(object["id"]),
		asString(data["payment_id"]),
		asString(data["id"]),
		asString(data["reference"]),
		rawString(env.Ref),
	)
	if n.Reference == "" {
		return nil, ErrMissingReference
	}
	return n, nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// rawText keeps numeric ids as their literal text.
func rawText(raw json.RawMessage) string {
	if s := rawString(raw); s != "" {
		return s
	}
	var num json.Number
	if len(raw) > 0 && json.Unmarshal(raw, &num) == nil {
		return num.String()
	}
	return ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
