// Package redis provides surge.Store and surge.Source implementations backed
// by Redis hashes. Each document is one hash stored under a common key prefix;
// each root key is a hash field.
package redis

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/surge"
)

// Store flushes batches into Redis hashes. Every batch is written with a
// single HSET inside MULTI/EXEC, so readers never observe a partial batch.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Source enumerates Redis hashes whose keys share a prefix using SCAN.
// Each hash is read with HGETALL only when the enumeration reaches it.
type Source struct {
	client redis.UniversalClient
	prefix string
	count  int64
}

// Option configures a Source.
type Option func(*Source)

// WithScanCount sets the COUNT hint passed to SCAN.
// Defaults to 100.
func WithScanCount(n int64) Option {
	return func(s *Source) {
		s.count = n
	}
}

// NewStore creates a Store that writes document id to the hash prefix+id.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// NewSource creates a Source over every hash whose key starts with prefix.
// Document IDs are the keys with the prefix removed.
func NewSource(client redis.UniversalClient, prefix string, opts ...Option) *Source {
	s := &Source{
		client: client,
		prefix: prefix,
		count:  100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Flush writes the batch to the document's hash atomically.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	values := make([]any, 0, len(batch)*2)
	for _, m := range batch {
		values = append(values, m.Key, m.Value)
	}
	key := s.prefix + id
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write hash %s: %w", key, err)
	}
	return nil
}

// Enumerate scans for matching hashes and yields each with its current fields.
// Keys deleted between SCAN and HGETALL are skipped.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		scan := s.client.Scan(ctx, 0, s.prefix+"*", s.count).Iterator()
		for scan.Next(ctx) {
			key := scan.Val()
			id := strings.TrimPrefix(key, s.prefix)
			if !match.Accepts(id) {
				continue
			}

			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				yield(surge.Document{}, fmt.Errorf("failed to read hash %s: %w", key, err))
				return
			}
			if len(fields) == 0 {
				continue
			}

			root := make(surge.Root, len(fields))
			for k, v := range fields {
				root[k] = []byte(v)
			}
			if !yield(surge.Document{ID: id, Root: root}, nil) {
				return
			}
		}
		if err := scan.Err(); err != nil && ctx.Err() == nil {
			yield(surge.Document{}, fmt.Errorf("failed to scan %s*: %w", s.prefix, err))
		}
	}
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
