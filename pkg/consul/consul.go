// Package consul provides surge.Store and surge.Source implementations backed
// by Consul KV. A document is the set of keys under prefix/id/.
package consul

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/surge"
)

// DefaultMaxOps is the largest transaction Consul accepts by default.
const DefaultMaxOps = 64

// Store writes each batch with KV transactions. A batch larger than the
// transaction limit after compaction is split; each part commits atomically.
type Store struct {
	client *api.Client
	prefix string
	maxOps int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxOps sets the most operations per transaction.
// Defaults to DefaultMaxOps.
func WithMaxOps(n int) Option {
	return func(s *Store) {
		s.maxOps = n
	}
}

// NewStore creates a Store writing under prefix. The prefix should end in "/".
func NewStore(client *api.Client, prefix string, opts ...Option) *Store {
	s := &Store{client: client, prefix: prefix, maxOps: DefaultMaxOps}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Flush commits the batch as one or more KV transactions.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	batch = surge.Compact(batch)
	q := (&api.QueryOptions{}).WithContext(ctx)

	for start := 0; start < len(batch); start += s.maxOps {
		end := min(start+s.maxOps, len(batch))
		ops := make(api.KVTxnOps, 0, end-start)
		for _, m := range batch[start:end] {
			ops = append(ops, &api.KVTxnOp{
				Verb:  api.KVSet,
				Key:   s.prefix + id + "/" + m.Key,
				Value: m.Value,
			})
		}

		ok, resp, _, err := s.client.KV().Txn(ops, q)
		if err != nil {
			return fmt.Errorf("failed to flush %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("failed to flush %s: %s", id, txnErrors(resp))
		}
	}
	return nil
}

func txnErrors(resp *api.KVTxnResponse) string {
	if resp == nil || len(resp.Errors) == 0 {
		return "transaction rolled back"
	}
	msgs := make([]string, len(resp.Errors))
	for i, e := range resp.Errors {
		msgs[i] = e.What
	}
	return strings.Join(msgs, "; ")
}

// Source enumerates documents under a prefix. IDs come from a key listing;
// each document's pairs are listed when the enumeration reaches it.
type Source struct {
	client *api.Client
	prefix string
}

// NewSource creates a Source over documents stored under prefix.
func NewSource(client *api.Client, prefix string) *Source {
	return &Source{client: client, prefix: prefix}
}

// Enumerate yields matching documents in key order.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		q := (&api.QueryOptions{}).WithContext(ctx)
		keys, _, err := s.client.KV().Keys(s.prefix, "", q)
		if err != nil {
			if ctx.Err() == nil {
				yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.prefix, err))
			}
			return
		}

		var ids []string
		seen := make(map[string]bool)
		for _, key := range keys {
			id, _, ok := strings.Cut(strings.TrimPrefix(key, s.prefix), "/")
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
			docPrefix := s.prefix + id + "/"
			pairs, _, err := s.client.KV().List(docPrefix, q)
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("failed to read %s: %w", id, err))
				}
				return
			}
			root := make(surge.Root, len(pairs))
			for _, p := range pairs {
				root[strings.TrimPrefix(p.Key, docPrefix)] = p.Value
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
