package surge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Deadline is a one-shot cancellation latch for a run. It trips when its
// duration elapses, when Abort is called, or when the parent context is
// cancelled. Once tripped it never resets.
//
// Alongside the run context a Deadline carries a drain context for flushes.
// The drain context outlives the trip by one grace period, shared by every
// flush still running or issued after the trip.
type Deadline struct {
	parent  context.Context
	ctx     context.Context
	abort   context.CancelCauseFunc
	stop    context.CancelFunc
	release func() bool

	drain     context.Context
	stopDrain func()

	tripped atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex
	err     error
}

// NewDeadline creates a Deadline derived from parent. A zero or negative d
// means the latch only trips on Abort or parent cancellation. A zero or
// negative grace uses DefaultFlushGrace.
func NewDeadline(parent context.Context, d, grace time.Duration, clock clockz.Clock) *Deadline {
	if clock == nil {
		clock = clockz.RealClock
	}
	if grace <= 0 {
		grace = DefaultFlushGrace
	}

	base, abort := context.WithCancelCause(parent)
	ctx, stop := base, context.CancelFunc(func() {})
	if d > 0 {
		ctx, stop = clock.WithTimeout(base, d)
	}

	dl := &Deadline{
		parent: parent,
		ctx:    ctx,
		abort:  abort,
		stop:   stop,
	}
	dl.drain, dl.stopDrain = drainAfter(ctx, grace, clock)
	dl.release = context.AfterFunc(ctx, dl.trip)
	return dl
}

// Context returns the run-scoped context. It is done once the latch trips.
func (d *Deadline) Context() context.Context {
	return d.ctx
}

// Drain returns the context flushes run on. It carries the run context's
// values, is not cancelled by the trip itself, and is cancelled with
// ErrGraceExceeded one grace period after the trip.
func (d *Deadline) Drain() context.Context {
	return d.drain
}

// Done returns a channel that is closed when the latch trips.
func (d *Deadline) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Tripped reports whether the latch has tripped.
func (d *Deadline) Tripped() bool {
	if d.tripped.Load() {
		return true
	}
	return !d.stopped.Load() && d.ctx.Err() != nil
}

// Abort trips the latch with the given cause. Subsequent calls have no effect.
func (d *Deadline) Abort(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	d.abort(fmt.Errorf("%w: %w", ErrAborted, cause))
}

// Err returns nil until the latch trips, then ErrDeadlineExceeded or an
// error wrapping ErrAborted.
func (d *Deadline) Err() error {
	if !d.Tripped() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = d.classify()
	}
	return d.err
}

// Stop releases the latch's resources, including the drain context. It does
// not trip the latch: a Deadline stopped before tripping stays open.
func (d *Deadline) Stop() {
	if d.ctx.Err() != nil {
		d.trip()
	}
	d.stopped.Store(true)
	d.release()
	d.stopDrain()
	d.stop()
	d.abort(nil)
}

// trip records the cause exactly once and emits the matching signal.
func (d *Deadline) trip() {
	if !d.tripped.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	if d.err == nil {
		d.err = d.classify()
	}
	err := d.err
	d.mu.Unlock()

	if errors.Is(err, ErrDeadlineExceeded) {
		capitan.Emit(context.WithoutCancel(d.ctx), RunDeadlineExceeded)
		return
	}
	capitan.Emit(context.WithoutCancel(d.ctx), RunAborted,
		KeyError.Field(err.Error()),
	)
}

func (d *Deadline) classify() error {
	cause := context.Cause(d.ctx)
	switch {
	case errors.Is(cause, ErrAborted):
		return cause
	case d.parent.Err() != nil:
		return fmt.Errorf("%w: %w", ErrAborted, causeOf(d.parent))
	case errors.Is(d.ctx.Err(), context.DeadlineExceeded):
		return ErrDeadlineExceeded
	default:
		return fmt.Errorf("%w: %w", ErrAborted, causeOf(d.ctx))
	}
}

// drainAfter returns a context detached from ctx's cancellation that is
// cancelled with ErrGraceExceeded once grace has passed after ctx is done.
// The returned stop function cancels it immediately and releases its timer.
func drainAfter(ctx context.Context, grace time.Duration, clock clockz.Clock) (context.Context, func()) {
	drain, cut := context.WithCancelCause(context.WithoutCancel(ctx))

	var (
		mu        sync.Mutex
		stopBound context.CancelFunc
	)
	release := context.AfterFunc(ctx, func() {
		bound, stop := clock.WithTimeout(context.Background(), grace)
		mu.Lock()
		stopBound = stop
		mu.Unlock()
		context.AfterFunc(bound, func() { cut(ErrGraceExceeded) })
	})

	return drain, func() {
		release()
		cut(context.Canceled)
		mu.Lock()
		if stopBound != nil {
			stopBound()
		}
		mu.Unlock()
	}
}

// causeOf returns the cancellation cause of ctx, falling back to ctx.Err()
// for contexts that do not record one.
func causeOf(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
