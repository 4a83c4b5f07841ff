package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/traces"
)

// OrderService is the slice of orders.Service ingestion needs.
type OrderService interface {
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	Apply(ctx context.Context, id string, ev orders.Event) (*orders.ApplyResult, error)
}

// Result is what ingestion reports for an accepted notification.
type Result struct {
	Status      Status        `json:"status"`
	Kind        string        `json:"kind,omitempty"`
	OrderID     string        `json:"orderId,omitempty"`
	OrderStatus orders.Status `json:"orderStatus,omitempty"`
}

// Service verifies, correlates and applies payment notifications.
type Service struct {
	verifier Verifier
	orders   OrderService
	logger   *slog.Logger
}

// NewService creates an ingestion service.
func NewService(verifier Verifier, orderSvc OrderService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{verifier: verifier, orders: orderSvc, logger: logger}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if !logging.HasLogger(ctx) {
		ctx = logging.WithLogger(ctx, s.logger)
	}
	return logging.L(ctx)
}

// Ingest processes one raw notification.
//
// Errors: ErrUnauthenticated before anything is read from the store,
// ErrMalformed / ErrMissingReference for unusable bodies,
// orders.ErrReferenceNotFound for an unknown reference. Any other error
// is a storage failure and the gateway may safely retry.
func (s *Service) Ingest(ctx context.Context, payload []byte, header http.Header) (_ *Result, retErr error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "webhooks.Ingest")
	defer func() {
		ingestDuration.Observe(time.Since(start).Seconds())
		traces.End(span, retErr)
	}()

	if err := s.verifier.Verify(payload, header); err != nil {
		verificationFailures.WithLabelValues(s.verifier.Name()).Inc()
		notificationsTotal.WithLabelValues("unauthenticated").Inc()
		s.log(ctx).Warn("payment notification failed verification",
			"security_event", true, "verifier", s.verifier.Name(), "error", err)
		if !errors.Is(err, ErrUnauthenticated) {
			err = fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil, err
	}

	n, err := Parse(payload)
	if err != nil {
		notificationsTotal.WithLabelValues("malformed").Inc()
		s.log(ctx).Info("unusable payment notification", "error", err)
		return nil, err
	}
	span.SetAttributes(traces.Event(n.Kind))

	if n.Ignored() {
		notificationsTotal.WithLabelValues(string(StatusIgnored)).Inc()
		s.log(ctx).Info("payment notification kind ignored", "kind", n.Kind, "notification_id", n.ID)
		return &Result{Status: StatusIgnored, Kind: n.Kind}, nil
	}
	span.SetAttributes(traces.PaymentReference(n.Reference))

	order, err := s.orders.GetByReference(ctx, n.Reference)
	if err != nil {
		if errors.Is(err, orders.ErrReferenceNotFound) {
			notificationsTotal.WithLabelValues("not_found").Inc()
			s.log(ctx).Info("payment notification for unknown reference",
				"kind", n.Kind, "payment_reference", n.Reference)
			return nil, err
		}
		notificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve reference: %w", err)
	}
	ctx = logging.WithOrderID(ctx, order.ID)

	res, err := s.orders.Apply(ctx, order.ID, n.Event)
	if res == nil || (err != nil && !errors.Is(err, orders.ErrInvalidTransition)) {
		notificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("apply %s: %w", n.Event, err)
	}

	out := &Result{Kind: n.Kind, OrderID: order.ID, OrderStatus: res.Order.Status}
	switch res.Outcome {
	case orders.OutcomeApplied:
		out.Status = StatusApplied
	case orders.OutcomeDuplicate:
		out.Status = StatusDuplicate
	default:
		out.Status = StatusRejected
	}
	notificationsTotal.WithLabelValues(string(out.Status)).Inc()
	span.SetAttributes(traces.OrderID(order.ID), traces.Outcome(string(out.Status)))
	s.log(ctx).Debug("payment notification processed",
		"kind", n.Kind, "notification_id", n.ID, "outcome", out.Status, "order_status", out.OrderStatus)
	return out, nil
}
