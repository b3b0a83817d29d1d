package surge

import (
	"context"
	"iter"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store and Source. It is useful for dry runs
// and tests. Every flushed batch is retained in order.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]Root
	batches map[string][][]Mutation
}

// NewMemoryStore creates a MemoryStore seeded with the given documents.
func NewMemoryStore(docs ...Document) *MemoryStore {
	m := &MemoryStore{
		docs:    make(map[string]Root, len(docs)),
		batches: make(map[string][][]Mutation),
	}
	for _, d := range docs {
		m.docs[d.ID] = cloneRoot(d.Root)
	}
	return m
}

// Flush applies the batch to the stored document, creating it if needed.
func (m *MemoryStore) Flush(_ context.Context, id string, batch []Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.docs[id]
	if !ok {
		root = make(Root)
		m.docs[id] = root
	}
	root.Apply(batch)
	m.batches[id] = append(m.batches[id], append([]Mutation(nil), batch...))
	return nil
}

// Enumerate yields stored documents in ID order. Each yielded root is a copy.
func (m *MemoryStore) Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, id := range m.IDs() {
			if ctx.Err() != nil {
				return
			}
			if !match.Accepts(id) {
				continue
			}
			root, ok := m.Root(id)
			if !ok {
				continue
			}
			if !yield(Document{ID: id, Root: root}, nil) {
				return
			}
		}
	}
}

// IDs returns stored document IDs in sorted order.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Root returns a copy of a stored document's root.
func (m *MemoryStore) Root(id string) (Root, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root, ok := m.docs[id]
	if !ok {
		return nil, false
	}
	return cloneRoot(root), true
}

// Batches returns every batch flushed for a document, in flush order.
func (m *MemoryStore) Batches(id string) [][]Mutation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]Mutation(nil), m.batches[id]...)
}

// Ensure MemoryStore implements Store and Source.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Source = (*MemoryStore)(nil)
)

func cloneRoot(r Root) Root {
	out := make(Root, len(r))
	for k, v := range r {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
