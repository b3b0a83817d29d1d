// Package firestore provides surge.Store and surge.Source implementations
// backed by Cloud Firestore. Each surge document is a Firestore document in a
// collection; root keys are entries of a map field, "root" by default.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/surge"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultField is the map field holding a document's root.
const DefaultField = "root"

type config struct {
	field string
}

// Option configures a Store or Source.
type Option func(*config)

// WithField sets the map field that holds the root.
// Defaults to DefaultField.
func WithField(field string) Option {
	return func(c *config) {
		c.field = field
	}
}

func newConfig(opts []Option) config {
	c := config{field: DefaultField}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Store writes each batch with a single merging Set, which Firestore applies
// atomically. Keys not in the batch are preserved.
type Store struct {
	client     *firestore.Client
	collection string
	cfg        config
}

// NewStore creates a Store writing to collection.
func NewStore(client *firestore.Client, collection string, opts ...Option) *Store {
	return &Store{client: client, collection: collection, cfg: newConfig(opts)}
}

// Flush merges the batch into the document, creating it if needed.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	batch = surge.Compact(batch)
	if len(batch) == 0 {
		return nil
	}
	values := make(map[string]any, len(batch))
	for _, m := range batch {
		values[m.Key] = m.Value
	}
	_, err := s.client.Collection(s.collection).Doc(id).Set(ctx,
		map[string]any{s.cfg.field: values},
		firestore.MergeAll,
	)
	if err != nil {
		return fmt.Errorf("failed to flush %s: %w", id, err)
	}
	return nil
}

// Source enumerates the documents of a collection. Document references are
// listed first; each document is fetched when the enumeration reaches it.
type Source struct {
	client     *firestore.Client
	collection string
	prefix     string
	cfg        config
}

// NewSource creates a Source over documents of collection whose ID starts
// with prefix. An empty prefix enumerates every document.
func NewSource(client *firestore.Client, collection, prefix string, opts ...Option) *Source {
	return &Source{client: client, collection: collection, prefix: prefix, cfg: newConfig(opts)}
}

// Enumerate yields matching documents with their roots.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		refs := s.client.Collection(s.collection).DocumentRefs(ctx)
		for {
			ref, err := refs.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.collection, err))
				}
				return
			}
			if !strings.HasPrefix(ref.ID, s.prefix) || !match.Accepts(ref.ID) {
				continue
			}

			snap, err := ref.Get(ctx)
			if status.Code(err) == codes.NotFound {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("failed to read %s: %w", ref.ID, err))
				}
				return
			}
			if !yield(surge.Document{ID: ref.ID, Root: s.root(snap)}, nil) {
				return
			}
		}
	}
}

func (s *Source) root(snap *firestore.DocumentSnapshot) surge.Root {
	root := make(surge.Root)
	fields, ok := snap.Data()[s.cfg.field].(map[string]any)
	if !ok {
		return root
	}
	for k, v := range fields {
		switch val := v.(type) {
		case []byte:
			root[k] = val
		case string:
			root[k] = []byte(val)
		default:
			root[k] = []byte(fmt.Sprint(val))
		}
	}
	return root
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
