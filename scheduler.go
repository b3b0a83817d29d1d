package surge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// Scheduler buffers one document's writes and flushes them to the store at a
// bounded cadence, independent of how the task paces its writes.
//
// The first write recorded while idle arms a timer for the flush interval.
// When the timer fires, or when the scheduler is flushed or closed
// explicitly, every buffered write is persisted as one batch. Flushes are
// serialized, so batches reach the store in issuance order.
//
// If the store rejects a batch the scheduler closes and rejects further writes.
type Scheduler struct {
	id       string
	runID    string
	pipeline pipz.Chainable[*Batch]
	interval time.Duration
	clock    clockz.Clock
	metrics  MetricsProvider
	base     context.Context
	drain    context.Context
	release  func()

	state   atomic.Int32
	flushes atomic.Int64

	flushMu sync.Mutex

	mu      sync.Mutex
	pending []Mutation
	timer   clockz.Timer
	disarm  chan struct{}
	seq     int
	closing bool
	err     error

	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler for the document id that flushes through
// the pipeline's store and options. Flushes run on a context detached from
// ctx's cancellation so that a cancelled run still drains. Once ctx is done,
// every remaining flush shares a single cfg.FlushGrace budget.
func (p *Pipeline) NewScheduler(ctx context.Context, id string, cfg Config) *Scheduler {
	drain, release := drainAfter(ctx, cfg.grace(), p.clock)
	s := p.newScheduler(ctx, drain, id, "", cfg)
	s.release = release
	return s
}

// newScheduler creates a Scheduler whose flushes run on drain.
func (p *Pipeline) newScheduler(ctx, drain context.Context, id, runID string, cfg Config) *Scheduler {
	s := &Scheduler{
		id:       id,
		runID:    runID,
		pipeline: p.pipeline,
		interval: cfg.FlushInterval,
		clock:    p.clock,
		metrics:  p.metrics,
		base:     context.WithoutCancel(ctx),
		drain:    drain,
	}
	s.state.Store(int32(FlushIdle))
	return s
}

// State returns the current state of the Scheduler.
func (s *Scheduler) State() FlushState {
	return FlushState(s.state.Load())
}

// Flushes returns the number of batches persisted.
func (s *Scheduler) Flushes() int {
	return int(s.flushes.Load())
}

// Err returns the flush error that closed the scheduler, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of buffered writes.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Record buffers a mutation. With a zero flush interval the mutation is
// flushed before Record returns.
func (s *Scheduler) Record(m Mutation) error {
	s.mu.Lock()
	if s.closing || s.State() == FlushClosed {
		err := s.closedErr()
		s.mu.Unlock()
		return err
	}
	s.pending = append(s.pending, m)

	if s.interval <= 0 {
		s.mu.Unlock()
		return s.flush()
	}

	if s.State() == FlushIdle {
		s.transition(FlushPending)
		s.arm()
	}
	s.mu.Unlock()
	return nil
}

// Flush persists every buffered write now. Flushing an empty buffer does not
// call the store.
func (s *Scheduler) Flush() error {
	return s.flush()
}

// Close drains the buffer with a final flush and closes the scheduler.
// It waits for any timer-driven flush in progress. Close is idempotent and
// returns the error that closed the scheduler, if any.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.wg.Wait()
		return s.Err()
	}
	s.closing = true
	s.disarmLocked()
	s.mu.Unlock()

	_ = s.flush() //nolint:errcheck // Error retained in s.err
	s.wg.Wait()
	if s.release != nil {
		s.release()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != FlushClosed {
		s.transition(FlushClosed)
	}
	return s.err
}

// flush takes the whole pending buffer and persists it as one batch.
func (s *Scheduler) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.disarmLocked()
	batch := s.pending
	s.pending = nil
	if len(batch) == 0 {
		if s.State() == FlushPending {
			s.transition(FlushIdle)
		}
		s.mu.Unlock()
		return nil
	}
	s.transition(FlushFlushing)
	s.seq++
	b := &Batch{Document: s.id, Mutations: batch, Sequence: s.seq}
	s.mu.Unlock()

	start := s.clock.Now()
	_, err := s.pipeline.Process(s.drain, b)
	elapsed := s.clock.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.err = fmt.Errorf("flush %d of %s: %w", b.Sequence, s.id, err)
		s.pending = nil
		s.transition(FlushClosed)
		capitan.Emit(s.base, FlushFailed,
			KeyRunID.Field(s.runID),
			KeyDocument.Field(s.id),
			KeyBatchSize.Field(len(batch)),
			KeyError.Field(err.Error()),
		)
		if s.metrics != nil {
			s.metrics.OnFlushFailure(len(batch), elapsed)
		}
		return s.err
	}

	s.flushes.Add(1)
	capitan.Emit(s.base, FlushSucceeded,
		KeyRunID.Field(s.runID),
		KeyDocument.Field(s.id),
		KeyBatchSize.Field(len(batch)),
		KeyDuration.Field(elapsed),
	)
	if s.metrics != nil {
		s.metrics.OnFlush(len(batch), elapsed)
	}

	switch {
	case s.closing:
		s.transition(FlushClosed)
	case len(s.pending) > 0:
		s.transition(FlushPending)
		s.arm()
	default:
		s.transition(FlushIdle)
	}
	return nil
}

// arm starts the flush timer. Caller must hold s.mu.
func (s *Scheduler) arm() {
	timer := s.clock.NewTimer(s.interval)
	disarm := make(chan struct{})
	s.timer, s.disarm = timer, disarm

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-timer.C():
			_ = s.flush() //nolint:errcheck // Error retained in s.err
		case <-disarm:
		}
	}()
}

// disarmLocked stops a pending flush timer. Caller must hold s.mu.
func (s *Scheduler) disarmLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	close(s.disarm)
	s.timer, s.disarm = nil, nil
}

// transition updates the state and emits a state change event if changed.
// Caller must hold s.mu.
func (s *Scheduler) transition(to FlushState) {
	from := s.State()
	if from == to {
		return
	}
	s.state.Store(int32(to))
	capitan.Emit(s.base, FlushStateChanged,
		KeyDocument.Field(s.id),
		KeyOldState.Field(from.String()),
		KeyNewState.Field(to.String()),
	)
	if s.metrics != nil {
		s.metrics.OnStateChange(from, to)
	}
}

func (s *Scheduler) closedErr() error {
	if s.err != nil {
		return fmt.Errorf("%w: %w", ErrSchedulerClosed, s.err)
	}
	return ErrSchedulerClosed
}
