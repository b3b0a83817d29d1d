package surge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls a condition until it returns true or timeout is reached.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return condition()
}

var errStoreDown = errors.New("store down")

// rejectingStore fails every flush for the listed documents.
type rejectingStore struct {
	*MemoryStore
	reject map[string]bool
	calls  atomic.Int32
}

func newRejectingStore(ids ...string) *rejectingStore {
	s := &rejectingStore{MemoryStore: NewMemoryStore(), reject: make(map[string]bool)}
	for _, id := range ids {
		s.reject[id] = true
	}
	return s
}

func (s *rejectingStore) Flush(ctx context.Context, id string, batch []Mutation) error {
	s.calls.Add(1)
	if s.reject[id] {
		return errStoreDown
	}
	return s.MemoryStore.Flush(ctx, id, batch)
}

// flakyStore fails the first n flushes, then delegates.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStore) Flush(ctx context.Context, id string, batch []Mutation) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errStoreDown
	}
	return s.MemoryStore.Flush(ctx, id, batch)
}

// slowStore holds every flush for delay unless its context ends first.
type slowStore struct {
	*MemoryStore
	delay time.Duration
}

func (s *slowStore) Flush(ctx context.Context, id string, batch []Mutation) error {
	select {
	case <-time.After(s.delay):
		return s.MemoryStore.Flush(ctx, id, batch)
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// countingMetrics records metrics callbacks.
type countingMetrics struct {
	NoOpMetricsProvider
	mu          sync.Mutex
	admitted    int
	maxInFlight int
	settled     map[Status]int
	flushes     int
	failures    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{settled: make(map[Status]int)}
}

func (m *countingMetrics) OnAdmitted(inFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted++
	if inFlight > m.maxInFlight {
		m.maxInFlight = inFlight
	}
}

func (m *countingMetrics) OnSettled(status Status, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[status]++
}

func (m *countingMetrics) OnFlush(_ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *countingMetrics) OnFlushFailure(_ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// erroringSource yields its documents, then an error.
type erroringSource struct {
	docs SliceSource
	err  error
}

func (s erroringSource) Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for d, err := range s.docs.Enumerate(ctx, match) {
			if !yield(d, err) {
				return
			}
		}
		yield(Document{}, s.err)
	}
}

// countingSource records whether Enumerate was called.
type countingSource struct {
	SliceSource
	calls atomic.Int32
}

func (s *countingSource) Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error] {
	s.calls.Add(1)
	return s.SliceSource.Enumerate(ctx, match)
}

// cellKey names the i-th cell of a paced mutation.
func cellKey(i int) string {
	return fmt.Sprintf("cell:%03d", i)
}

// pacedWrites returns a MutateFunc that writes n cells with a pace after each.
func pacedWrites(n int, pace time.Duration) MutateFunc {
	return func(_ context.Context, t *Task) error {
		for i := 0; i < n; i++ {
			if err := t.Write(Mutation{Key: cellKey(i), Value: []byte(t.ID())}); err != nil {
				return err
			}
			if err := t.Pace(pace); err != nil {
				return err
			}
		}
		return nil
	}
}
