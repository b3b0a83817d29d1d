package surge

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Processor identities for the flush pipeline.
var (
	flushID          = pipz.NewIdentity("surge:flush", "Persists a document batch to the store")
	retryID          = pipz.NewIdentity("surge:retry", "Retries failed flushes")
	backoffID        = pipz.NewIdentity("surge:backoff", "Retries failed flushes with exponential backoff")
	timeoutID        = pipz.NewIdentity("surge:timeout", "Bounds each flush attempt")
	circuitBreakerID = pipz.NewIdentity("surge:circuit-breaker", "Stops flushing after repeated store failures")
	rateLimitID      = pipz.NewIdentity("surge:rate-limit", "Limits flushes per second across all documents")
	rateLimitedID    = pipz.NewIdentity("surge:rate-limited", "Rate limited flush sequence")
	errorHandlerID   = pipz.NewIdentity("surge:error-handler", "Observes flush errors")
)

// Batch is one flush of a document's buffered mutations.
type Batch struct {
	// Document is the ID of the document the batch belongs to.
	Document string

	// Mutations are the buffered writes in issuance order.
	Mutations []Mutation

	// Sequence is the 1-based flush number within the document's run.
	Sequence int
}

// Option configures the flush pipeline of a Pipeline. Options wrap the
// store call with middleware for retry, timeout, circuit breaking, and rate
// limiting. Options are applied in order; later options wrap earlier ones.
//
// A retried batch is re-applied in full. Because a batch is atomic and the
// last write for a key wins, re-applying a batch is safe.
type Option func(pipz.Chainable[*Batch]) pipz.Chainable[*Batch]

// buildPipeline wraps the store terminal with pipeline options.
func buildPipeline(store Store, opts []Option) pipz.Chainable[*Batch] {
	var pipeline pipz.Chainable[*Batch] = pipz.Effect(flushID, func(ctx context.Context, b *Batch) error {
		return store.Flush(ctx, b.Document, b.Mutations)
	})
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry retries failed flushes immediately up to maxAttempts times.
// For exponential backoff between retries, use WithBackoff instead.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	}
}

// WithBackoff retries failed flushes with increasing delays:
// baseDelay, 2*baseDelay, 4*baseDelay, etc.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds each flush. Without it, flushes before cancellation are
// unbounded; after cancellation they share the Config.FlushGrace budget.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithCircuitBreaker stops calling the store after 'failures' consecutive
// failures until 'recovery' has passed. The breaker is shared by every
// document in every run of the Pipeline.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	}
}

// WithRateLimit limits flushes across all documents to rate per second
// with the given burst. Flushes wait for capacity.
func WithRateLimit(rate float64, burst int) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		limiter := pipz.NewRateLimiter[*Batch](rateLimitID, rate, burst)
		return pipz.NewSequence(rateLimitedID, limiter, p)
	}
}

// WithErrorHandler adds error observation to the flush pipeline.
// Errors are passed to the handler for logging, metrics, or alerting,
// but the error still propagates and the document still fails.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Batch]]) Option {
	return func(p pipz.Chainable[*Batch]) pipz.Chainable[*Batch] {
		return pipz.NewHandle(errorHandlerID, p, handler)
	}
}
