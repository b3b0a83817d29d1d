// Package testing provides test utilities and helpers for surge pipelines.
package testing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/surge"
)

// ErrRejected is returned by FailingStore for rejected documents.
var ErrRejected = errors.New("store rejected batch")

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// RequireStatus fails the test immediately if the document did not settle
// with the expected status.
func RequireStatus(t *testing.T, result surge.Result, id string, expected surge.Status) surge.Outcome {
	t.Helper()
	out, ok := result.Outcome(id)
	if !ok {
		t.Fatalf("document %s was not admitted", id)
	}
	if out.Status != expected {
		t.Fatalf("document %s: expected status %s, got %s (err: %v)", id, expected, out.Status, out.Err)
	}
	return out
}

// RequireRoot fails the test if the document's stored root does not hold
// value under key.
func RequireRoot(t *testing.T, store *surge.MemoryStore, id, key, value string) {
	t.Helper()
	root, ok := store.Root(id)
	if !ok {
		t.Fatalf("document %s not stored", id)
	}
	if got, ok := root[key]; !ok || string(got) != value {
		t.Fatalf("document %s: expected %s=%q, got %q", id, key, value, got)
	}
}

// Seed returns n documents named prefix0..prefix(n-1) with empty roots.
func Seed(prefix string, n int) surge.SliceSource {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return surge.Documents(ids...)
}

// Flush records one store call.
type Flush struct {
	ID    string
	Batch []surge.Mutation
	At    time.Time
}

// RecordingStore wraps a MemoryStore and records every flush in call order.
type RecordingStore struct {
	*surge.MemoryStore

	mu      sync.Mutex
	flushes []Flush
}

// NewRecordingStore creates a RecordingStore seeded with docs.
func NewRecordingStore(docs ...surge.Document) *RecordingStore {
	return &RecordingStore{MemoryStore: surge.NewMemoryStore(docs...)}
}

// Flush records the call and delegates to the MemoryStore.
func (s *RecordingStore) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	s.mu.Lock()
	s.flushes = append(s.flushes, Flush{ID: id, Batch: append([]surge.Mutation(nil), batch...), At: time.Now()})
	s.mu.Unlock()
	return s.MemoryStore.Flush(ctx, id, batch)
}

// Flushes returns the recorded flushes for id, or every flush if id is empty.
func (s *RecordingStore) Flushes(id string) []Flush {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Flush
	for _, f := range s.flushes {
		if id == "" || f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

// FailingStore rejects flushes for selected documents and delegates the rest
// to a MemoryStore.
type FailingStore struct {
	*surge.MemoryStore
	reject map[string]bool
}

// NewFailingStore creates a FailingStore rejecting the given document IDs.
func NewFailingStore(ids ...string) *FailingStore {
	s := &FailingStore{MemoryStore: surge.NewMemoryStore(), reject: make(map[string]bool, len(ids))}
	for _, id := range ids {
		s.reject[id] = true
	}
	return s
}

// Flush returns ErrRejected for rejected documents.
func (s *FailingStore) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	if s.reject[id] {
		return fmt.Errorf("%s: %w", id, ErrRejected)
	}
	return s.MemoryStore.Flush(ctx, id, batch)
}

// PaintFunc returns a MutateFunc that reveals a width×height grid of cells
// in shuffled order, setting each to color and pacing between writes. A nil
// rng uses a randomly seeded source.
func PaintFunc(width, height int, color string, pace time.Duration, rng *rand.Rand) surge.MutateFunc {
	return func(_ context.Context, t *surge.Task) error {
		cells := make([]int, width*height)
		for i := range cells {
			cells[i] = i
		}
		shuffle := rand.Shuffle
		if rng != nil {
			shuffle = rng.Shuffle
		}
		shuffle(len(cells), func(i, j int) {
			cells[i], cells[j] = cells[j], cells[i]
		})

		for _, c := range cells {
			if err := t.Set(CellKey(c%width, c/width), color); err != nil {
				return err
			}
			if err := t.Pace(pace); err != nil {
				return err
			}
		}
		return nil
	}
}

// CellKey names the grid cell at x, y.
func CellKey(x, y int) string {
	return fmt.Sprintf("cell:%d:%d", x, y)
}
