package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Exporter pushes the counters of one function instance to a Prometheus Pushgateway.
// Function instances cannot be scraped, so each invocation replaces the instance's group
// with its current totals.
type Exporter struct {
	pusher  *push.Pusher
	timeout time.Duration
}

// ForFunction returns the counters for a function process. Without a push URL the
// counters are discarded and the returned Exporter is nil.
func ForFunction(pushURL, job, instance string, timeout time.Duration) (*Pipeline, *Exporter) {
	if pushURL == "" {
		return Discard(), nil
	}
	reg := prometheus.NewRegistry()
	m := New(reg)
	pusher := push.New(pushURL, job).Gatherer(reg).Grouping("instance", instance)
	return m, &Exporter{pusher: pusher, timeout: timeout}
}

// Flush pushes the current totals. It outlives cancellation of ctx, bounded by the
// exporter's timeout. A nil Exporter does nothing.
func (e *Exporter) Flush(ctx context.Context) error {
	if e == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
