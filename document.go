package surge

import (
	"context"
	"iter"
	"sort"
	"strings"
)

// Mutation is a single keyed write against a document's root state.
// Writes are applied in issuance order; the last write for a key wins.
type Mutation struct {
	Key   string
	Value []byte
}

// Root is the mutable key/value state of a document.
type Root map[string][]byte

// Keys returns the root's keys in sorted order.
func (r Root) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply writes each mutation into the root in order.
func (r Root) Apply(batch []Mutation) {
	for _, m := range batch {
		r[m.Key] = m.Value
	}
}

// Document is one independently mutable unit of remote state.
// Root holds the persisted state at the time the document was fetched.
type Document struct {
	ID   string
	Root Root
}

// Match reports whether a document ID should be processed.
// A nil Match accepts every document.
type Match func(id string) bool

// All matches every document.
func All() Match {
	return nil
}

// HasPrefix matches documents whose ID starts with prefix.
func HasPrefix(prefix string) Match {
	return func(id string) bool {
		return strings.HasPrefix(id, prefix)
	}
}

// Accepts reports whether the match admits id. A nil Match admits everything.
func (m Match) Accepts(id string) bool {
	return m == nil || m(id)
}

// Source enumerates documents lazily. The sequence is finite and is consumed
// at most once per run; a non-nil error ends the enumeration.
//
// Implementations should fetch each document's root only when the sequence
// reaches it, and must stop promptly when ctx is done.
type Source interface {
	Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error]
}

// Store persists a document's buffered mutations as one atomic batch.
// Implementations must tolerate concurrent Flush calls for different documents.
type Store interface {
	Flush(ctx context.Context, id string, batch []Mutation) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, id string, batch []Mutation) error

// Flush calls f.
func (f StoreFunc) Flush(ctx context.Context, id string, batch []Mutation) error {
	return f(ctx, id, batch)
}

// Compact returns the batch with only the last write for each key, in the
// order those last writes were issued. Applying the compacted batch yields
// the same root as applying the original.
func Compact(batch []Mutation) []Mutation {
	last := make(map[string]int, len(batch))
	for i, m := range batch {
		last[m.Key] = i
	}
	if len(last) == len(batch) {
		return batch
	}
	out := make([]Mutation, 0, len(last))
	for i, m := range batch {
		if last[m.Key] == i {
			out = append(out, m)
		}
	}
	return out
}
