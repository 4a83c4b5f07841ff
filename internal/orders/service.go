package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/idgen"
	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/retry"
	"github.com/mbd888/packshop/internal/syncutil"
	"github.com/mbd888/packshop/internal/traces"
	"github.com/mbd888/packshop/internal/validation"
)

// DefaultReferenceAttempts bounds payment reference regeneration on conflict.
const DefaultReferenceAttempts = 5

// Outcome of applying an event to an order.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// ApplyResult reports the order as it stands after an event was processed.
type ApplyResult struct {
	Order      *Order
	Outcome    Outcome
	From       Status
	To         Status
	Dispatched bool
}

// DeliveryReport is what the dispatcher tells the service after a hand-off.
// Attempts counts only this hand-off; the order keeps the running total.
type DeliveryReport struct {
	Accepted bool
	Attempts int
	Err      error
}

// Service owns every state change on orders.
type Service struct {
	store       Store
	catalog     Catalog
	dispatcher  Dispatcher
	notifier    Notifier
	presenter   Presenter
	locks       *syncutil.KeyedMutex
	newRef      func(orderID string) string
	refAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDispatcher sets the delivery dispatcher invoked after an order is delivered.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPresenter sets how payment presentation artifacts are rendered.
func WithPresenter(p Presenter) Option {
	return func(s *Service) { s.presenter = p }
}

// WithReferenceGenerator replaces the payment reference generator.
func WithReferenceGenerator(fn func(orderID string) string) Option {
	return func(s *Service) { s.newRef = fn }
}

// WithReferenceAttempts sets how many references Create tries before giving up.
func WithReferenceAttempts(n int) Option {
	return func(s *Service) { s.refAttempts = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the fallback logger used outside request scope.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an order service.
func NewService(store Store, cat Catalog, opts ...Option) *Service {
	s := &Service{
		store:       store,
		catalog:     cat,
		presenter:   LinkPresenter{Prefix: "pix://pay"},
		locks:       syncutil.NewKeyedMutex(0),
		newRef:      idgen.PaymentReference,
		refAttempts: DefaultReferenceAttempts,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher wires the dispatcher after construction; the dispatcher
// itself reports back into the service, so one side is set late.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if !logging.HasLogger(ctx) {
		ctx = logging.WithLogger(ctx, s.logger)
	}
	return logging.L(ctx)
}

// ValidateCreate checks a creation request and returns the field errors.
func ValidateCreate(req CreateRequest) validation.ValidationErrors {
	return validation.Validate(
		validation.PositiveID("packId", req.PackID),
		validation.Required("customerName", req.CustomerName),
		validation.MaxLength("customerName", req.CustomerName, validation.MaxNameLength),
		validation.Required("customerEmail", req.CustomerEmail),
		validation.ValidEmail("customerEmail", req.CustomerEmail),
	)
}

// Create validates req, prices it from the catalog and stores a new
// pending order with a fresh payment reference. A reference collision is
// resolved by generating a new one; the caller never sees the conflict.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "orders.Create", traces.PackID(req.PackID))
	defer func() { traces.End(span, retErr) }()

	if errs := ValidateCreate(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, errs)
	}

	pack, err := s.catalog.GetPack(ctx, req.PackID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &Order{
		ID:            idgen.OrderID(),
		PackID:        pack.ID,
		PackName:      pack.Name,
		PackContent:   pack.Content,
		CustomerName:  validation.SanitizeString(req.CustomerName, validation.MaxNameLength),
		CustomerEmail: validation.NormalizeEmail(req.CustomerEmail),
		Amount:        pack.Price,
		Status:        StatusPendingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	policy := retry.Policy{Attempts: s.refAttempts, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}
	err = policy.Run(ctx, func(int) error {
		order.PaymentReference = s.newRef(order.ID)
		order.PaymentPresentation = s.presenter.Present(order)
		if err := s.store.Create(ctx, order); err != nil {
			if errors.Is(err, ErrReferenceConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	}, func(attempt int, err error) {
		referenceConflicts.Inc()
		s.log(ctx).Debug("payment reference collision, regenerating",
			"order_id", order.ID, "attempt", attempt)
	})
	if errors.Is(err, ErrReferenceConflict) {
		return nil, ErrReferenceExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	ordersCreated.Inc()
	span.SetAttributes(traces.OrderID(order.ID), traces.Amount(order.Amount))
	s.log(ctx).Info("order created",
		"order_id", order.ID, "pack_id", order.PackID, "amount", order.Amount)
	s.notify(NotifyCreated, order)
	return order, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// GetByReference resolves a payment reference to its order.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Order, error) {
	if reference == "" {
		return nil, ErrReferenceNotFound
	}
	return s.store.GetByReference(ctx, reference)
}

// List returns orders newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.store.List(ctx, filter)
}

// Apply runs ev against the order under a per-order lock and a row-locked
// store update. Concurrent callers for the same order are serialized; the
// loser observes the committed state and resolves as a duplicate.
//
// A duplicate is not an error. An event the transition table does not
// allow returns OutcomeRejected together with ErrInvalidTransition.
func (s *Service) Apply(ctx context.Context, id string, ev Event) (_ *ApplyResult, retErr error) {
	ctx, span := traces.StartSpan(ctx, "orders.Apply", traces.OrderID(id), traces.Event(string(ev)))
	defer func() { traces.End(span, retErr) }()
	ctx = logging.WithOrderID(ctx, id)

	if ev == EventReadyToDeliver {
		return nil, fmt.Errorf("%w: %s is internal", ErrInvalidTransition, ev)
	}
	if !ev.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res Result
	order, err := s.store.Update(ctx, id, func(o *Order) error {
		var advErr error
		res, advErr = Advance(o, ev, s.now().UTC())
		return advErr
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		eventOutcomes.WithLabelValues(string(ev), string(OutcomeDuplicate)).Inc()
		span.SetAttributes(traces.Outcome(string(OutcomeDuplicate)))
		s.log(ctx).Debug("duplicate event ignored", "event", ev, "status", order.Status)
		if ev == EventPaymentConfirmed && (order.Status == StatusFailed || order.Status == StatusExpired) {
			latePaymentConfirmations.Inc()
			s.log(ctx).Warn("payment confirmed for closed order, needs manual reconciliation",
				"status", order.Status, "payment_reference", order.PaymentReference, "amount", order.Amount)
		}
		return &ApplyResult{Order: order, Outcome: OutcomeDuplicate, From: order.Status, To: order.Status}, nil
	case errors.Is(err, ErrInvalidTransition):
		eventOutcomes.WithLabelValues(string(ev), string(OutcomeRejected)).Inc()
		span.SetAttributes(traces.Outcome(string(OutcomeRejected)))
		s.log(ctx).Info("event rejected by state machine", "event", ev, "status", order.Status)
		return &ApplyResult{Order: order, Outcome: OutcomeRejected, From: order.Status, To: order.Status}, err
	default:
		return nil, err
	}

	for _, step := range res.Steps {
		transitionsApplied.WithLabelValues(string(step.From), string(step.To)).Inc()
	}
	eventOutcomes.WithLabelValues(string(ev), string(OutcomeApplied)).Inc()
	span.SetAttributes(traces.Outcome(string(OutcomeApplied)))
	s.log(ctx).Info("order transitioned", "event", ev, "from", res.From, "to", res.To)

	result := &ApplyResult{Order: order, Outcome: OutcomeApplied, From: res.From, To: res.To}
	if res.Dispatch {
		result.Dispatched = s.dispatch(ctx, order)
	}
	s.notify(NotifyStatusChanged, order)
	return result, nil
}

// dispatch hands the order to the dispatcher. It runs once per committed
// delivered transition. An enqueue failure is recorded on the order so
// an operator can redeliver.
func (s *Service) dispatch(ctx context.Context, o *Order) bool {
	if s.dispatcher == nil {
		s.log(ctx).Warn("no delivery dispatcher configured")
		return false
	}
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), o.Clone(), o.Pack()); err != nil {
		s.log(ctx).Error("delivery dispatch failed", "error", err)
		if _, recErr := s.recordDelivery(ctx, o.ID, DeliveryReport{Err: err}); recErr != nil {
			s.log(ctx).Error("failed to record dispatch failure", "error", recErr)
		}
		return false
	}
	return true
}

// ExpireStale applies expire to pending orders created before cutoff.
// It returns how many orders were expired.
func (s *Service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := s.store.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}
	expired := 0
	for _, o := range pending {
		res, err := s.Apply(ctx, o.ID, EventExpire)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		if res.Outcome == OutcomeApplied {
			expired++
		}
	}
	return expired, nil
}

// RecordDelivery stores the dispatcher's result. Only the delivery
// bookkeeping changes; status and deliveredAt are never touched.
func (s *Service) RecordDelivery(ctx context.Context, id string, report DeliveryReport) (*Order, error) {
	ctx = logging.WithOrderID(ctx, id)
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.recordDelivery(ctx, id, report)
}

// caller holds the order lock
func (s *Service) recordDelivery(ctx context.Context, id string, report DeliveryReport) (*Order, error) {
	order, err := s.store.Update(ctx, id, func(o *Order) error {
		if o.Status != StatusDelivered {
			return fmt.Errorf("%w: delivery result for %s order", ErrInvalidTransition, o.Status)
		}
		now := s.now().UTC()
		d := &Delivery{Attempts: report.Attempts, UpdatedAt: &now}
		if o.Delivery != nil {
			d.Attempts += o.Delivery.Attempts
		}
		if report.Accepted {
			d.State = DeliveryAccepted
		} else {
			d.State = DeliveryFailed
			if report.Err != nil {
				d.LastError = report.Err.Error()
			}
		}
		o.Delivery = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	deliveryResults.WithLabelValues(string(order.Delivery.State)).Inc()
	if order.Delivery.State == DeliveryFailed {
		s.log(ctx).Error("delivery failed",
			"attempts", order.Delivery.Attempts, "error", order.Delivery.LastError)
	} else {
		s.log(ctx).Info("delivery accepted", "attempts", order.Delivery.Attempts)
	}
	s.notify(NotifyDeliveryUpdated, order)
	return order, nil
}

// Redeliver re-queues a delivered order whose delivery failed.
func (s *Service) Redeliver(ctx context.Context, id string) (*Order, error) {
	ctx = logging.WithOrderID(ctx, id)
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.store.Update(ctx, id, func(o *Order) error {
		if o.Status != StatusDelivered || o.Delivery == nil || o.Delivery.State != DeliveryFailed {
			return ErrNotRedeliverable
		}
		now := s.now().UTC()
		o.Delivery.State = DeliveryQueued
		o.Delivery.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).Info("manual redelivery requested")
	s.dispatch(ctx, order)
	s.notify(NotifyDeliveryUpdated, order)
	return order, nil
}

// RequeueStranded re-dispatches delivered orders whose delivery has sat in
// queued since before cutoff. That happens when the process stops between
// committing the delivered transition and the dispatcher reporting back.
// Receivers see the same Idempotency-Key on a repeated hand-off.
func (s *Service) RequeueStranded(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	queued, err := s.store.ListStrandedBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stranded deliveries: %w", err)
	}
	requeued := 0
	for _, o := range queued {
		ok, err := s.requeue(ctx, o.ID, cutoff)
		if err != nil {
			return requeued, err
		}
		if ok {
			requeued++
		}
	}
	return requeued, nil
}

func stranded(o *Order, cutoff time.Time) bool {
	return o.Status == StatusDelivered && o.Delivery != nil &&
		o.Delivery.State == DeliveryQueued &&
		o.Delivery.UpdatedAt != nil && o.Delivery.UpdatedAt.Before(cutoff)
}

var errNotStranded = errors.New("orders: delivery no longer stranded")

func (s *Service) requeue(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	ctx = logging.WithOrderID(ctx, id)
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	order, err := s.store.Update(ctx, id, func(o *Order) error {
		if !stranded(o, cutoff) {
			return errNotStranded
		}
		now := s.now().UTC()
		o.Delivery.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, errNotStranded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.log(ctx).Warn("re-dispatching stranded delivery")
	s.dispatch(ctx, order)
	return true, nil
}

func (s *Service) notify(kind string, o *Order) {
	if s.notifier != nil {
		s.notifier.OrderEvent(kind, o.Clone())
	}
}

// IsNotFound reports whether err means the pack, order or reference does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReferenceNotFound) ||
		errors.Is(err, catalog.ErrPackNotFound)
}
