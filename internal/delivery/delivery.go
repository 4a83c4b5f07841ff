// Package delivery hands delivered orders to the fulfilment channel.
//
// Dispatch is called once per order after the delivered transition has
// been committed. It only enqueues; workers run the Deliverer with
// retries behind a circuit breaker and report the outcome back to the
// order service. A failure here never changes the order status.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/circuitbreaker"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/retry"
	"github.com/mbd888/packshop/internal/traces"
)

var (
	ErrQueueFull = errors.New("delivery: queue full")
	ErrStopped   = errors.New("delivery: dispatcher stopped")
)

// Deliverer sends a pack to a customer.
type Deliverer interface {
	Deliver(ctx context.Context, o *orders.Order, pack catalog.Pack) error
	Name() string
}

// Recorder stores the outcome of a hand-off on the order.
type Recorder interface {
	RecordDelivery(ctx context.Context, id string, report orders.DeliveryReport) (*orders.Order, error)
}

// Config tunes the dispatcher.
type Config struct {
	Workers          int
	QueueSize        int
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	AttemptTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        1000,
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		AttemptTimeout:   15 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

type job struct {
	order    *orders.Order
	pack     catalog.Pack
	enqueued time.Time
}

// Dispatcher is a bounded queue drained by a fixed worker pool.
type Dispatcher struct {
	deliverer Deliverer
	recorder  Recorder
	breaker   *circuitbreaker.Breaker
	cfg       Config
	logger    *slog.Logger

	queue   chan job
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	group   *errgroup.Group
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewDispatcher creates a dispatcher. Call Start before Dispatch.
func NewDispatcher(deliverer Deliverer, recorder Recorder, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("delivery circuit changed state", "deliverer", key, "from", from.String(), "to", to.String())
	})

	return &Dispatcher{
		deliverer: deliverer,
		recorder:  recorder,
		breaker:   breaker,
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They run until Stop or until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(gctx)
			return nil
		})
	}
	d.group = g
	d.running.Store(true)
	d.logger.Info("delivery dispatcher started",
		"deliverer", d.deliverer.Name(), "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Running reports whether workers are active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Dispatch enqueues a delivery. It never blocks.
func (d *Dispatcher) Dispatch(_ context.Context, o *orders.Order, pack catalog.Pack) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrStopped
	}
	select {
	case d.queue <- job{order: o, pack: pack, enqueued: time.Now()}:
		queueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		jobsTotal.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued jobs to drain. When ctx
// expires first the workers are cancelled and the remaining jobs are
// recorded as failed.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if d.group == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	defer d.running.Store(false)
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("delivery: stop: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for j := range d.queue {
		queueDepth.Set(float64(len(d.queue)))
		d.safeProcess(ctx, j)
	}
}

func (d *Dispatcher) safeProcess(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in delivery worker", "order_id", j.order.ID, "panic", fmt.Sprint(r))
			d.report(j, orders.DeliveryReport{Attempts: 1, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	d.process(ctx, j)
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	ctx, span := traces.StartSpan(ctx, "delivery.Deliver",
		traces.OrderID(j.order.ID), traces.PackID(j.pack.ID))
	start := time.Now()
	name := d.deliverer.Name()

	attempts := 0
	policy := retry.Policy{Attempts: d.cfg.MaxAttempts, BaseDelay: d.cfg.BaseDelay, MaxDelay: d.cfg.MaxDelay}
	err := policy.Run(ctx, func(attempt int) error {
		attempts = attempt
		err := d.breaker.Execute(name, func() error {
			actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
			defer cancel()
			return d.deliverer.Deliver(actx, j.order, j.pack)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error) {
		attemptsTotal.WithLabelValues(name, "retry").Inc()
		d.logger.Warn("delivery attempt failed, retrying",
			"order_id", j.order.ID, "attempt", attempt, "error", err)
	})
	if attempts == 0 {
		attempts = 1
	}

	deliveryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	traces.End(span, err)

	if err != nil {
		jobsTotal.WithLabelValues("failed").Inc()
		d.report(j, orders.DeliveryReport{Attempts: attempts, Err: err})
		return
	}
	jobsTotal.WithLabelValues("accepted").Inc()
	attemptsTotal.WithLabelValues(name, "success").Inc()
	d.report(j, orders.DeliveryReport{Accepted: true, Attempts: attempts})
}

// report uses a fresh context so a shutdown in progress still records
// the outcome.
func (d *Dispatcher) report(j job, report orders.DeliveryReport) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.recorder.RecordDelivery(ctx, j.order.ID, report); err != nil {
		d.logger.Error("failed to record delivery result", "order_id", j.order.ID, "error", err)
	}
}
