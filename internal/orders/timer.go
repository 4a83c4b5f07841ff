package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const expiryBatchSize = 100

// Timer periodically expires orders left in pending_payment past their TTL.
// It goes through Service.Apply, so a payment confirmation racing the
// expiry is resolved by the per-order lock like any other event.
type Timer struct {
	service  *Service
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates an expiry timer. ttl is the pending lifetime of an order.
func NewTimer(service *Service, ttl, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the expiry loop until ctx is done or Stop is called. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpire(ctx)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once, and
// before or during a sweep.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeExpire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in order expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expire(ctx)
}

func (t *Timer) expire(ctx context.Context) {
	cutoff := t.service.now().UTC().Add(-t.ttl)
	n, err := t.service.ExpireStale(ctx, cutoff, expiryBatchSize)
	if err != nil {
		t.logger.Warn("failed to expire pending orders", "error", err, "expired", n)
		return
	}
	if n > 0 {
		t.logger.Info("expired pending orders", "count", n, "cutoff", cutoff)
	}
}
