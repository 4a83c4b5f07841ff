package orders

import (
	"fmt"
	"time"
)

// Event drives the state machine.
type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventPaymentFailed    Event = "payment_failed"
	EventExpire           Event = "expire"
	// EventReadyToDeliver is internal; it is chained after payment_confirmed
	// and never accepted from outside the package.
	EventReadyToDeliver Event = "ready_to_deliver"
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventPaymentConfirmed, EventPaymentFailed, EventExpire, EventReadyToDeliver:
		return true
	}
	return false
}

// Effect is the side effect attached to a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectDispatch
)

// Transition is one row of the transition table.
type Transition struct {
	From   Status
	Event  Event
	To     Status
	Effect Effect
}

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Transition{}

func init() {
	for _, t := range []Transition{
		{From: StatusPendingPayment, Event: EventPaymentConfirmed, To: StatusPaid},
		{From: StatusPaid, Event: EventReadyToDeliver, To: StatusDelivered, Effect: EffectDispatch},
		{From: StatusPendingPayment, Event: EventPaymentFailed, To: StatusFailed},
		{From: StatusPendingPayment, Event: EventExpire, To: StatusExpired},
	} {
		transitions[transitionKey{t.From, t.Event}] = t
	}
}

// Next looks up the transition for (from, ev).
//
// A replayed event resolves to ErrDuplicate: anything on a delivered order,
// payment_confirmed once the order has left pending_payment, and any event
// whose target is the state the order is already in. Every other unlisted
// combination is ErrInvalidTransition.
func Next(from Status, ev Event) (Transition, error) {
	if !ev.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}
	if t, ok := transitions[transitionKey{from, ev}]; ok {
		return t, nil
	}
	switch {
	case from == StatusDelivered:
		return Transition{}, ErrDuplicate
	case ev == EventPaymentConfirmed && from != StatusPendingPayment:
		return Transition{}, ErrDuplicate
	case targetOf(ev) == from:
		return Transition{}, ErrDuplicate
	}
	return Transition{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

func targetOf(ev Event) Status {
	switch ev {
	case EventPaymentFailed:
		return StatusFailed
	case EventExpire:
		return StatusExpired
	case EventReadyToDeliver:
		return StatusDelivered
	}
	return ""
}

// Result describes what Advance did.
type Result struct {
	From     Status
	To       Status
	Steps    []Transition
	Dispatch bool
}

// Advance applies ev to o in place. A confirmed payment is carried through
// paid to delivered in the same call so that the decision to dispatch is
// part of a single persisted write. On error o is left untouched.
func Advance(o *Order, ev Event, now time.Time) (Result, error) {
	res := Result{From: o.Status, To: o.Status}

	t, err := Next(o.Status, ev)
	if err != nil {
		return res, err
	}
	steps := []Transition{t}
	if t.To == StatusPaid {
		chained, err := Next(StatusPaid, EventReadyToDeliver)
		if err != nil {
			return res, err
		}
		steps = append(steps, chained)
	}

	for _, step := range steps {
		apply(o, step, now)
		if step.Effect == EffectDispatch {
			res.Dispatch = true
		}
	}
	res.Steps = steps
	res.To = o.Status
	return res, nil
}

func apply(o *Order, t Transition, now time.Time) {
	o.Status = t.To
	o.UpdatedAt = now
	switch t.To {
	case StatusPaid:
		ts := now
		o.PaidAt = &ts
	case StatusDelivered:
		if o.DeliveredAt == nil {
			ts := now
			o.DeliveredAt = &ts
		}
		ts := now
		o.Delivery = &Delivery{State: DeliveryQueued, UpdatedAt: &ts}
	}
}
