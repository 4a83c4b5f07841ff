// Package orders implements the order lifecycle: creation with a unique
// payment reference, the payment state machine, and the per-order
// serialized application of gateway events.
//
// Flow:
//  1. Create: validate input, snapshot the pack price, allocate a payment reference
//  2. Apply(payment_confirmed): pending_payment -> paid -> delivered in one write,
//     then hand the order to the Dispatcher exactly once
//  3. Apply(payment_failed | expire): pending_payment -> failed | expired
//  4. RecordDelivery: bookkeeping from the dispatcher, never touches status
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/packshop/internal/catalog"
)

var (
	ErrValidation         = errors.New("orders: validation failed")
	ErrOrderNotFound      = errors.New("orders: order not found")
	ErrReferenceNotFound  = errors.New("orders: payment reference not found")
	ErrReferenceConflict  = errors.New("orders: payment reference already in use")
	ErrDuplicate          = errors.New("orders: event already applied")
	ErrInvalidTransition  = errors.New("orders: invalid state transition")
	ErrUnknownEvent       = errors.New("orders: unknown event")
	ErrNotRedeliverable   = errors.New("orders: delivery is not in a failed state")
	ErrReferenceExhausted = errors.New("orders: could not allocate a unique payment reference")
)

// Status is the payment lifecycle state of an order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusDelivered      Status = "delivered"
	StatusExpired        Status = "expired"
	StatusFailed         Status = "failed"
)

// IsTerminal returns true if no further status change is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusDelivered, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// DeliveryState tracks the hand-off to the fulfilment channel. It is
// independent of Status: a failed delivery never reverts a delivered order.
type DeliveryState string

const (
	DeliveryQueued   DeliveryState = "queued"
	DeliveryAccepted DeliveryState = "accepted"
	DeliveryFailed   DeliveryState = "failed"
)

// Delivery is the post-commit bookkeeping for content hand-off.
type Delivery struct {
	State     DeliveryState `json:"state"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"lastError,omitempty"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
}

// Order is a customer's claim on one pack.
type Order struct {
	ID                  string     `json:"id"`
	PackID              int64      `json:"packId"`
	PackName            string     `json:"packName"`
	PackContent         string     `json:"-"`
	CustomerName        string     `json:"customerName"`
	CustomerEmail       string     `json:"customerEmail"`
	Amount              int64      `json:"amount"`
	Status              Status     `json:"status"`
	PaymentReference    string     `json:"paymentReference"`
	PaymentPresentation string     `json:"paymentPresentation"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	PaidAt              *time.Time `json:"paidAt,omitempty"`
	DeliveredAt         *time.Time `json:"deliveredAt,omitempty"`
	Delivery            *Delivery  `json:"delivery,omitempty"`
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	if o.Delivery != nil {
		d := *o.Delivery
		if o.Delivery.UpdatedAt != nil {
			t := *o.Delivery.UpdatedAt
			d.UpdatedAt = &t
		}
		cp.Delivery = &d
	}
	return &cp
}

// Pack returns the pack as it was when the order was created.
func (o *Order) Pack() catalog.Pack {
	return catalog.Pack{
		ID:      o.PackID,
		Name:    o.PackName,
		Price:   o.Amount,
		Content: o.PackContent,
	}
}

// CreateRequest is the body of POST /orders.
type CreateRequest struct {
	PackID        int64  `json:"packId"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
}

// ListFilter narrows admin listings.
type ListFilter struct {
	Status        Status
	DeliveryState DeliveryState
	Limit         int
}

// Store persists orders. The payment reference column carries a unique
// index; that index is the correlation lookup used by webhook ingestion.
type Store interface {
	// Create inserts o. Returns ErrReferenceConflict if the payment
	// reference is already claimed; nothing is written in that case.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	// Update loads the order under an exclusive row lock, calls fn on a
	// copy and persists the copy if fn returns nil. When fn fails nothing
	// is written and the order as observed is returned alongside the error.
	Update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
	// ListStrandedBefore returns delivered orders whose delivery has been
	// queued since before cutoff, oldest first.
	ListStrandedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}

// Catalog resolves packs at order creation time.
type Catalog interface {
	GetPack(ctx context.Context, id int64) (*catalog.Pack, error)
}

// Dispatcher hands a delivered order to fulfilment. Implementations must
// not block on the transport; failures are reported later through
// Service.RecordDelivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, o *Order, pack catalog.Pack) error
}

// Notifier receives order lifecycle events for fan-out (websocket clients).
type Notifier interface {
	OrderEvent(kind string, o *Order)
}

// Event kinds published to the Notifier.
const (
	NotifyCreated         = "order.created"
	NotifyStatusChanged   = "order.status_changed"
	NotifyDeliveryUpdated = "order.delivery_updated"
)
