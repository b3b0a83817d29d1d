// Package nats provides surge.Store and surge.Source implementations backed
// by a NATS JetStream key-value bucket. Each document is one KV entry holding
// the encoded root; flushes use revision-checked updates so that concurrent
// writers never lose a batch.
package nats

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/surge"
)

type config struct {
	codec       surge.Codec
	maxAttempts int
}

// Option configures a Store or Source.
type Option func(*config)

// WithCodec sets the codec used to encode document roots in KV entries.
// Defaults to surge.JSONCodec.
func WithCodec(codec surge.Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// WithMaxAttempts sets how many times a flush is retried when another
// writer updates the entry concurrently. Defaults to 5.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		c.maxAttempts = n
	}
}

func newConfig(opts []Option) config {
	c := config{codec: surge.JSONCodec{}, maxAttempts: 5}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Store flushes batches into KV entries with compare-and-set semantics.
type Store struct {
	kv     jetstream.KeyValue
	prefix string
	cfg    config
}

// NewStore creates a Store that writes document id to the key prefix+id.
func NewStore(kv jetstream.KeyValue, prefix string, opts ...Option) *Store {
	return &Store{kv: kv, prefix: prefix, cfg: newConfig(opts)}
}

// Flush reads the entry, applies the batch, and writes it back conditioned
// on the revision it read. Conflicting writes are retried.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	key := s.prefix + id

	var err error
	for attempt := 0; attempt < s.cfg.maxAttempts; attempt++ {
		err = s.apply(ctx, key, batch)
		if err == nil || !isConflict(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to flush %s: %w", key, err)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, key string, batch []surge.Mutation) error {
	root := make(surge.Root)
	entry, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		entry = nil
	case err != nil:
		return err
	default:
		if err := s.cfg.codec.Unmarshal(entry.Value(), &root); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
	}

	root.Apply(batch)
	data, err := s.cfg.codec.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if entry == nil {
		_, err = s.kv.Create(ctx, key, data)
		return err
	}
	_, err = s.kv.Update(ctx, key, data, entry.Revision())
	return err
}

// isConflict reports whether err means another writer changed the entry.
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Source enumerates KV entries whose keys share a prefix.
type Source struct {
	kv     jetstream.KeyValue
	prefix string
	cfg    config
}

// NewSource creates a Source over every key that starts with prefix.
// Document IDs are the keys with the prefix removed.
func NewSource(kv jetstream.KeyValue, prefix string, opts ...Option) *Source {
	return &Source{kv: kv, prefix: prefix, cfg: newConfig(opts)}
}

// Enumerate lists the bucket's keys and yields each matching document,
// fetching its entry when the enumeration reaches it.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		lister, err := s.kv.ListKeys(ctx)
		if err != nil {
			if errors.Is(err, jetstream.ErrNoKeysFound) {
				return
			}
			yield(surge.Document{}, fmt.Errorf("failed to list keys: %w", err))
			return
		}
		defer lister.Stop() //nolint:errcheck // Best-effort watcher cleanup

		for key := range lister.Keys() {
			if !strings.HasPrefix(key, s.prefix) {
				continue
			}
			id := strings.TrimPrefix(key, s.prefix)
			if !match.Accepts(id) {
				continue
			}

			entry, err := s.kv.Get(ctx, key)
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("failed to read %s: %w", key, err))
				}
				return
			}

			root := make(surge.Root)
			if err := s.cfg.codec.Unmarshal(entry.Value(), &root); err != nil {
				yield(surge.Document{}, fmt.Errorf("failed to decode %s: %w", key, err))
				return
			}
			if !yield(surge.Document{ID: id, Root: root}, nil) {
				return
			}
		}
	}
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
