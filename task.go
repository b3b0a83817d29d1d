package surge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
)

// MutateFunc transforms one document. It issues writes through the Task and
// paces them with Task.Pace. Returning an error marks the document failed;
// siblings are unaffected.
//
// When the run is cancelled, Pace returns the cancellation cause and further
// writes return ErrCancelled. Writes issued before cancellation are still
// flushed.
type MutateFunc func(ctx context.Context, t *Task) error

// Task is the handle a MutateFunc uses to read and write its document.
// A Task is owned by a single goroutine and must not be shared.
type Task struct {
	ctx       context.Context
	doc       Document
	scheduler *Scheduler
	codec     Codec
	clock     clockz.Clock
	maxWrites int
	writes    int
	cancelled bool
}

// ID returns the document identifier.
func (t *Task) ID() string {
	return t.doc.ID
}

// Get returns the current value for key, including writes issued by this task.
func (t *Task) Get(key string) ([]byte, bool) {
	v, ok := t.doc.Root[key]
	return v, ok
}

// Decode unmarshals the current value for key into v using the pipeline codec.
// It reports false if the key is absent.
func (t *Task) Decode(key string, v any) (bool, error) {
	raw, ok := t.doc.Root[key]
	if !ok {
		return false, nil
	}
	return true, t.codec.Unmarshal(raw, v)
}

// Keys returns the document's keys in sorted order.
func (t *Task) Keys() []string {
	return t.doc.Root.Keys()
}

// Writes returns the number of writes recorded so far.
func (t *Task) Writes() int {
	return t.writes
}

// Write records a mutation. The mutation is applied to the document's root
// and handed to the flush scheduler before Write returns.
func (t *Task) Write(m Mutation) error {
	if t.ctx.Err() != nil {
		t.cancelled = true
		return fmt.Errorf("%w: %w", ErrCancelled, causeOf(t.ctx))
	}
	if t.maxWrites > 0 && t.writes >= t.maxWrites {
		return fmt.Errorf("%w: %d writes", ErrWriteLimit, t.maxWrites)
	}
	if err := t.scheduler.Record(m); err != nil {
		return err
	}
	t.doc.Root[m.Key] = m.Value
	t.writes++
	return nil
}

// Set encodes v with the pipeline codec and writes it under key.
func (t *Task) Set(key string, v any) error {
	raw, err := t.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.Write(Mutation{Key: key, Value: raw})
}

// Pace suspends the task for d. Other tasks keep running. If the run is
// cancelled while waiting, Pace returns the cancellation cause promptly.
func (t *Task) Pace(d time.Duration) error {
	if err := t.ctx.Err(); err != nil {
		t.cancelled = true
		return causeOf(t.ctx)
	}
	if d <= 0 {
		return nil
	}
	timer := t.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-t.ctx.Done():
		t.cancelled = true
		return causeOf(t.ctx)
	}
}

// Context returns the run-scoped context. It is done when the run is cancelled.
func (t *Task) Context() context.Context {
	return t.ctx
}

// execute runs fn against the task, drains the scheduler, and classifies
// the document's outcome.
func (t *Task) execute(fn MutateFunc) Outcome {
	fnErr := t.call(fn)
	flushErr := t.scheduler.Close()

	out := Outcome{
		ID:      t.doc.ID,
		Writes:  t.writes,
		Flushes: t.scheduler.Flushes(),
	}

	switch {
	case flushErr != nil:
		out.Status = StatusFailed
		out.Err = flushErr
	case fnErr != nil && !isCancellation(fnErr):
		out.Status = StatusFailed
		out.Err = fnErr
	case t.cancelled || (fnErr != nil && t.ctx.Err() != nil):
		out.Status = StatusCancelled
		out.Err = causeOf(t.ctx)
	case fnErr != nil:
		out.Status = StatusFailed
		out.Err = fnErr
	default:
		out.Status = StatusSucceeded
	}
	return out
}

// isCancellation reports whether err stems from the run being cancelled.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrDeadlineExceeded) ||
		errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// call invokes fn and converts a panic into an error.
func (t *Task) call(fn MutateFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(t.ctx, t)
}
