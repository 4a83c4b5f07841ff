// Package reconciliation finds delivered orders whose content hand-off
// never reported back and puts them through the dispatcher again.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultStaleAfter is how long a delivery may sit in queued before it
	// counts as stranded. It must exceed the dispatcher's worst-case retry time.
	DefaultStaleAfter = 15 * time.Minute
	batchSize         = 200
)

// Requeuer re-dispatches stranded deliveries. Implemented by orders.Service.
type Requeuer interface {
	RequeueStranded(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Report is the outcome of one run.
type Report struct {
	Cutoff   time.Time     `json:"cutoff"`
	Requeued int           `json:"requeued"`
	Duration time.Duration `json:"duration"`
}

// Runner performs reconciliation runs.
type Runner struct {
	orders     Requeuer
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewRunner creates a runner. A non-positive staleAfter uses DefaultStaleAfter.
func NewRunner(orders Requeuer, staleAfter time.Duration, logger *slog.Logger) *Runner {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Runner{orders: orders, staleAfter: staleAfter, now: time.Now, logger: logger}
}

// Run requeues every delivery stranded longer than staleAfter.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	report := &Report{Cutoff: start.UTC().Add(-r.staleAfter)}

	n, err := r.orders.RequeueStranded(ctx, report.Cutoff, batchSize)
	report.Requeued = n
	report.Duration = r.now().Sub(start)

	runDuration.Observe(report.Duration.Seconds())
	requeuedTotal.Add(float64(n))
	if err != nil {
		runErrors.Inc()
		return report, fmt.Errorf("requeue stranded deliveries: %w", err)
	}
	if n > 0 {
		r.logger.Warn("stranded deliveries requeued", "count", n, "cutoff", report.Cutoff)
	}
	return report, nil
}
