// Package surge provides a bounded-concurrency batch mutation pipeline.
//
// A run applies a caller-supplied transformation to many independent remote
// documents. At most Config.Concurrency documents are mutated at once, the
// whole run is bounded by Config.Deadline, each task paces its own writes,
// and each document's writes are buffered and flushed to a Store at most
// once per Config.FlushInterval.
//
// # Pipeline
//
// A Pipeline wires the components of a run together:
//
//	Source → Limiter → Task (MutateFunc) → Scheduler → Store
//
// The Source enumerates documents lazily. The Limiter admits one document per
// free permit. Each admitted document runs its MutateFunc in its own
// goroutine under the run's Deadline. Every write the function issues is
// applied to the document's root and handed to the document's Scheduler,
// which persists buffered writes as one atomic batch per flush.
//
// # Cancellation
//
// The Deadline is a one-shot latch that trips when Config.Deadline elapses,
// when Deadline.Abort is called, or when the parent context is cancelled.
// Once tripped, no further documents are admitted, Task.Pace returns
// promptly, and further writes are rejected. Every write recorded before the
// latch tripped is still flushed before Run returns.
//
// # Failure isolation
//
// A document whose MutateFunc returns an error or panics, or whose store
// flush is rejected, is recorded as failed. Other documents continue.
// Run only returns an error for an invalid Config; everything else is
// reported in the Result.
//
// # Stores and sources
//
// The core package provides MemoryStore (both a Store and a Source),
// SliceSource and ChannelSource. Backends are available in pkg/:
//
//   - pkg/redis: Redis hashes, flushed with MULTI/EXEC
//   - pkg/postgres: PostgreSQL rows, flushed in a transaction
//   - pkg/nats: NATS JetStream KV, flushed with revision-checked updates
//   - pkg/etcd: etcd keys, flushed with a transaction
//   - pkg/consul: Consul KV, flushed with a transaction
//   - pkg/zookeeper: ZooKeeper znodes, flushed with multi
//   - pkg/firestore: Firestore documents, flushed with a merge set
//   - pkg/kubernetes: ConfigMaps, flushed with conflict-retried updates
//   - pkg/file: JSON files in a directory, flushed with atomic renames
//
// # Example
//
//	store := redis.NewStore(client, "room:")
//	source := redis.NewSource(client, "room:")
//
//	result, err := surge.New(store, surge.WithRetry(3)).
//	    Match(surge.HasPrefix("pixel-")).
//	    Run(ctx, source, func(ctx context.Context, t *surge.Task) error {
//	        for i := 0; i < 256; i++ {
//	            if err := t.Set(fmt.Sprintf("cell:%d", i), "#ff0000"); err != nil {
//	                return err
//	            }
//	            if err := t.Pace(5 * time.Millisecond); err != nil {
//	                return err
//	            }
//	        }
//	        return nil
//	    }, surge.Config{
//	        Concurrency:   20,
//	        FlushInterval: 200 * time.Millisecond,
//	        Deadline:      5 * time.Second,
//	    })
package surge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// Pipeline runs mutation functions over documents and flushes their writes
// to a Store. A Pipeline may be used for any number of sequential or
// concurrent runs; instance configuration must be set before the first run.
type Pipeline struct {
	pipeline     pipz.Chainable[*Batch]
	clock        clockz.Clock
	codec        Codec
	metrics      MetricsProvider
	match        Match
	onSettle     func(Outcome)
	failures     *failureLog
}

// New creates a Pipeline that flushes to store.
//
// Pipeline options (With*) wrap the flush path. Instance configuration uses
// chainable methods before calling Run.
//
// Example:
//
//	pipeline := surge.New(store,
//	    surge.WithBackoff(3, 50*time.Millisecond),
//	    surge.WithTimeout(2*time.Second),
//	).Codec(surge.YAMLCodec{})
func New(store Store, opts ...Option) *Pipeline {
	return &Pipeline{
		pipeline: buildPipeline(store, opts),
		clock:    clockz.RealClock,
		codec:    JSONCodec{},
	}
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Clock sets a custom clock for pacing, flush timers, and the deadline.
// Use this with clockz.FakeClock for deterministic testing.
func (p *Pipeline) Clock(clock clockz.Clock) *Pipeline {
	p.clock = clock
	return p
}

// Codec sets the codec Task.Set and Task.Decode use for values.
// Default: JSONCodec.
func (p *Pipeline) Codec(codec Codec) *Pipeline {
	p.codec = codec
	return p
}

// Metrics sets a metrics provider for observability integration.
func (p *Pipeline) Metrics(provider MetricsProvider) *Pipeline {
	p.metrics = provider
	return p
}

// Match restricts runs to documents whose ID the predicate accepts.
// Default: every document the source yields.
func (p *Pipeline) Match(m Match) *Pipeline {
	p.match = m
	return p
}

// OnSettle sets a callback invoked from the task goroutine as each document
// settles. It must be safe for concurrent use.
func (p *Pipeline) OnSettle(fn func(Outcome)) *Pipeline {
	p.onSettle = fn
	return p
}

// ErrorHistorySize sets the number of recent document failures to retain
// across runs. Use 0 (default) to disable.
func (p *Pipeline) ErrorHistorySize(n int) *Pipeline {
	p.failures = newFailureLog(n)
	return p
}

// ErrorHistory returns recent document failures, oldest first.
// Returns nil if error history is not enabled.
func (p *Pipeline) ErrorHistory() []DocumentError {
	return p.failures.snapshot(nil)
}

// RunErrorHistory returns the retained failures recorded by one run.
func (p *Pipeline) RunErrorHistory(runID string) []DocumentError {
	return p.failures.snapshot(func(e DocumentError) bool { return e.RunID == runID })
}

// Run applies fn to every document source yields, subject to cfg.
//
// Run validates cfg before touching any document and returns an error
// wrapping ErrInvalidConfig if it is invalid. Otherwise Run always returns a
// nil error: per-document failures, cancellation, and source errors are
// reported in the Result. Run returns after every admitted document has
// settled and drained.
func (p *Pipeline) Run(ctx context.Context, source Source, fn MutateFunc, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if source == nil {
		return Result{}, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	if fn == nil {
		return Result{}, fmt.Errorf("%w: nil mutate func", ErrInvalidConfig)
	}

	runID := uuid.NewString()
	result := Result{
		RunID:   runID,
		Started: p.clock.Now(),
	}

	dl := NewDeadline(ctx, cfg.Deadline, cfg.grace(), p.clock)
	defer dl.Stop()
	runCtx := dl.Context()
	limiter := NewLimiter(cfg.Concurrency)

	capitan.Emit(ctx, RunStarted,
		KeyRunID.Field(result.RunID),
		KeyConcurrency.Field(cfg.Concurrency),
		KeyFlushInterval.Field(cfg.FlushInterval),
		KeyDeadline.Field(cfg.Deadline),
	)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes []Outcome
		seen     = make(map[string]struct{})
	)

	for doc, err := range source.Enumerate(runCtx, p.match) {
		if err != nil {
			if !dl.Tripped() {
				result.Err = fmt.Errorf("enumerate documents: %w", err)
				capitan.Emit(ctx, RunSourceFailed,
					KeyRunID.Field(result.RunID),
					KeyError.Field(err.Error()),
				)
			}
			break
		}
		if dl.Tripped() {
			break
		}
		if !p.match.Accepts(doc.ID) {
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			result.Skipped = append(result.Skipped, doc.ID)
			capitan.Emit(ctx, DocumentSkipped,
				KeyRunID.Field(result.RunID),
				KeyDocument.Field(doc.ID),
			)
			continue
		}
		seen[doc.ID] = struct{}{}

		permit, err := limiter.Acquire(runCtx)
		if err != nil {
			break
		}
		if dl.Tripped() {
			permit.Release()
			break
		}

		mu.Lock()
		idx := len(outcomes)
		outcomes = append(outcomes, Outcome{ID: doc.ID})
		mu.Unlock()

		capitan.Emit(ctx, DocumentAdmitted,
			KeyRunID.Field(result.RunID),
			KeyDocument.Field(doc.ID),
		)
		if p.metrics != nil {
			p.metrics.OnAdmitted(limiter.InFlight())
		}

		wg.Add(1)
		go func(doc Document) {
			defer wg.Done()
			defer permit.Release()
			out := p.runTask(runCtx, dl, runID, doc, fn, cfg)
			p.settle(ctx, runID, out)

			mu.Lock()
			outcomes[idx] = out
			mu.Unlock()
		}(doc)
	}

	wg.Wait()

	if result.Err == nil && dl.Tripped() {
		result.Err = dl.Err()
	}
	result.Documents = outcomes
	result.Elapsed = p.clock.Since(result.Started)

	capitan.Emit(ctx, RunCompleted,
		KeyRunID.Field(result.RunID),
		KeySucceeded.Field(result.Count(StatusSucceeded)),
		KeyFailed.Field(result.Count(StatusFailed)),
		KeyCancelled.Field(result.Count(StatusCancelled)),
		KeyDuration.Field(result.Elapsed),
	)

	return result, nil
}

// runTask mutates one document and drains its scheduler.
func (p *Pipeline) runTask(ctx context.Context, dl *Deadline, runID string, doc Document, fn MutateFunc, cfg Config) Outcome {
	start := p.clock.Now()
	if doc.Root == nil {
		doc.Root = make(Root)
	}

	t := &Task{
		ctx:       ctx,
		doc:       doc,
		scheduler: p.newScheduler(ctx, dl.Drain(), doc.ID, runID, cfg),
		codec:     p.codec,
		clock:     p.clock,
		maxWrites: cfg.MaxWritesPerDocument,
	}
	out := t.execute(fn)
	if out.Status == StatusCancelled {
		out.Err = dl.Err()
	}
	out.Duration = p.clock.Since(start)
	return out
}

// settle reports a document's outcome to signals, metrics, and history.
func (p *Pipeline) settle(ctx context.Context, runID string, out Outcome) {
	switch out.Status {
	case StatusSucceeded:
		capitan.Emit(ctx, DocumentSucceeded,
			KeyRunID.Field(runID),
			KeyDocument.Field(out.ID),
			KeyWrites.Field(out.Writes),
			KeyDuration.Field(out.Duration),
		)
	case StatusCancelled:
		capitan.Emit(ctx, DocumentCancelled,
			KeyRunID.Field(runID),
			KeyDocument.Field(out.ID),
			KeyWrites.Field(out.Writes),
		)
	default:
		capitan.Emit(ctx, DocumentFailed,
			KeyRunID.Field(runID),
			KeyDocument.Field(out.ID),
			KeyError.Field(out.Err.Error()),
		)
		p.failures.record(DocumentError{RunID: runID, Document: out.ID, Err: out.Err})
	}
	if p.metrics != nil {
		p.metrics.OnSettled(out.Status, out.Duration)
	}
	if p.onSettle != nil {
		p.onSettle(out)
	}
}

// Run is a convenience for New(store, opts...).Run(ctx, source, fn, cfg).
func Run(ctx context.Context, source Source, store Store, fn MutateFunc, cfg Config, opts ...Option) (Result, error) {
	return New(store, opts...).Run(ctx, source, fn, cfg)
}
