package surge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter admits at most a fixed number of concurrent tasks.
// Waiters are admitted in FIFO order.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// Permit is the right to run one task. Release returns the slot.
type Permit struct {
	limiter *Limiter
	once    sync.Once
}

// NewLimiter creates a Limiter with n slots. n must be positive.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		panic(fmt.Sprintf("surge: limiter size must be positive, got %d", n))
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}
}

// Acquire blocks until a slot is free or ctx is done. If ctx is already done,
// Acquire fails without taking a slot even when one is free.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdmissionCancelled, causeOf(ctx))
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdmissionCancelled, causeOf(ctx))
	}
	l.inFlight.Add(1)
	return &Permit{limiter: l}, nil
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return l.size
}

// Release returns the permit's slot. Calling Release more than once has no effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.limiter.inFlight.Add(-1)
		p.limiter.sem.Release(1)
	})
}
