// Package etcd provides surge.Store and surge.Source implementations backed
// by etcd. A document is the set of keys under prefix/id/; each root key is
// stored at prefix/id/key.
package etcd

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/zoobzio/surge"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultMaxOps matches etcd's default --max-txn-ops.
const DefaultMaxOps = 128

type config struct {
	maxOps int
}

// Option configures a Store.
type Option func(*config)

// WithMaxOps sets the most puts issued in one transaction. It should not
// exceed the server's --max-txn-ops. Defaults to DefaultMaxOps.
func WithMaxOps(n int) Option {
	return func(c *config) {
		c.maxOps = n
	}
}

// Store writes each batch in a single transaction. Batches that still
// exceed the transaction limit after compaction are split, and each part is
// committed atomically on its own.
type Store struct {
	client *clientv3.Client
	prefix string
	cfg    config
}

// NewStore creates a Store writing under prefix. The prefix should end in "/".
func NewStore(client *clientv3.Client, prefix string, opts ...Option) *Store {
	s := &Store{client: client, prefix: prefix, cfg: config{maxOps: DefaultMaxOps}}
	for _, opt := range opts {
		opt(&s.cfg)
	}
	return s
}

// Flush commits the batch's puts.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	batch = surge.Compact(batch)
	for start := 0; start < len(batch); start += s.cfg.maxOps {
		end := min(start+s.cfg.maxOps, len(batch))
		ops := make([]clientv3.Op, 0, end-start)
		for _, m := range batch[start:end] {
			ops = append(ops, clientv3.OpPut(s.prefix+id+"/"+m.Key, string(m.Value)))
		}
		resp, err := s.client.Txn(ctx).Then(ops...).Commit()
		if err != nil {
			return fmt.Errorf("failed to flush %s: %w", id, err)
		}
		if !resp.Succeeded {
			return fmt.Errorf("failed to flush %s: transaction not applied", id)
		}
	}
	return nil
}

// Source enumerates documents under a prefix. Document IDs are discovered
// with a keys-only range read; each document's keys are read when the
// enumeration reaches it.
type Source struct {
	client *clientv3.Client
	prefix string
}

// NewSource creates a Source over documents stored under prefix.
func NewSource(client *clientv3.Client, prefix string) *Source {
	return &Source{client: client, prefix: prefix}
}

// Enumerate yields matching documents in key order.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		resp, err := s.client.Get(ctx, s.prefix,
			clientv3.WithPrefix(),
			clientv3.WithKeysOnly(),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
		)
		if err != nil {
			if ctx.Err() == nil {
				yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.prefix, err))
			}
			return
		}

		var ids []string
		seen := make(map[string]bool)
		for _, kv := range resp.Kvs {
			id, _, ok := strings.Cut(strings.TrimPrefix(string(kv.Key), s.prefix), "/")
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}

		for _, id := range ids {
			if !match.Accepts(id) {
				continue
			}
			root, err := s.root(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, err)
				}
				return
			}
			if !yield(surge.Document{ID: id, Root: root}, nil) {
				return
			}
		}
	}
}

func (s *Source) root(ctx context.Context, id string) (surge.Root, error) {
	docPrefix := s.prefix + id + "/"
	resp, err := s.client.Get(ctx, docPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	root := make(surge.Root, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		root[strings.TrimPrefix(string(kv.Key), docPrefix)] = kv.Value
	}
	return root, nil
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
