package surge

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key pipeline events.
// Callbacks are invoked from task goroutines and must be safe for concurrent use.
type MetricsProvider interface {
	// OnAdmitted is called when a document receives a permit.
	// InFlight is the number of permits held after admission.
	OnAdmitted(inFlight int)

	// OnSettled is called when a document's task has drained and released its permit.
	OnSettled(status Status, duration time.Duration)

	// OnFlush is called after a batch is persisted.
	OnFlush(size int, duration time.Duration)

	// OnFlushFailure is called when the store rejects a batch.
	OnFlushFailure(size int, duration time.Duration)

	// OnStateChange is called when a scheduler transitions between states.
	OnStateChange(from, to FlushState)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnAdmitted(_ int)                      {}
func (NoOpMetricsProvider) OnSettled(_ Status, _ time.Duration)   {}
func (NoOpMetricsProvider) OnFlush(_ int, _ time.Duration)        {}
func (NoOpMetricsProvider) OnFlushFailure(_ int, _ time.Duration) {}
func (NoOpMetricsProvider) OnStateChange(_, _ FlushState)         {}
