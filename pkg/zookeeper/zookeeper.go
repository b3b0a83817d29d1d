// Package zookeeper provides surge.Store and surge.Source implementations
// backed by ZooKeeper. A document is a znode under a root path; each root
// key is a child znode holding the value.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/surge"
)

// ErrInvalidKey is returned for keys that cannot name a znode.
var ErrInvalidKey = errors.New("zookeeper: invalid key")

// Store writes each batch with a single multi-op, so the whole batch is
// applied atomically.
type Store struct {
	conn *zk.Conn
	root string
	acl  []zk.ACL
}

// Option configures a Store.
type Option func(*Store)

// WithACL sets the ACL used for created znodes.
// Defaults to zk.WorldACL(zk.PermAll).
func WithACL(acl []zk.ACL) Option {
	return func(s *Store) {
		s.acl = acl
	}
}

// NewStore creates a Store writing documents under the root path.
func NewStore(conn *zk.Conn, root string, opts ...Option) *Store {
	s := &Store{conn: conn, root: root, acl: zk.WorldACL(zk.PermAll)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Flush creates missing key znodes and sets existing ones in one multi-op.
// If another writer creates a key concurrently the multi-op is retried once.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	batch = surge.Compact(batch)
	if len(batch) == 0 {
		return nil
	}
	for _, m := range batch {
		if m.Key == "" || strings.Contains(m.Key, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidKey, m.Key)
		}
	}

	docPath := path.Join(s.root, id)
	if err := s.ensurePath(docPath); err != nil {
		return fmt.Errorf("failed to create %s: %w", docPath, err)
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = s.multi(docPath, batch)
		if !errors.Is(err, zk.ErrNodeExists) && !errors.Is(err, zk.ErrNoNode) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to flush %s: %w", id, err)
	}
	return nil
}

func (s *Store) multi(docPath string, batch []surge.Mutation) error {
	children, _, err := s.conn.Children(docPath)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(children))
	for _, c := range children {
		existing[c] = true
	}

	ops := make([]any, 0, len(batch))
	for _, m := range batch {
		p := path.Join(docPath, m.Key)
		if existing[m.Key] {
			ops = append(ops, &zk.SetDataRequest{Path: p, Data: m.Value, Version: -1})
			continue
		}
		ops = append(ops, &zk.CreateRequest{Path: p, Data: m.Value, Acl: s.acl})
	}
	_, err = s.conn.Multi(ops...)
	return err
}

// ensurePath creates p and any missing parents.
func (s *Store) ensurePath(p string) error {
	exists, _, err := s.conn.Exists(p)
	if err != nil || exists {
		return err
	}
	if parent := path.Dir(p); parent != "/" && parent != "." {
		if err := s.ensurePath(parent); err != nil {
			return err
		}
	}
	_, err = s.conn.Create(p, nil, 0, s.acl)
	if errors.Is(err, zk.ErrNodeExists) {
		return nil
	}
	return err
}

// Source enumerates the document znodes under a root path in name order.
type Source struct {
	conn *zk.Conn
	root string
}

// NewSource creates a Source over the children of root.
func NewSource(conn *zk.Conn, root string) *Source {
	return &Source{conn: conn, root: root}
}

// Enumerate yields matching documents, reading each document's key znodes
// when the enumeration reaches it.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		ids, _, err := s.conn.Children(s.root)
		if errors.Is(err, zk.ErrNoNode) {
			return
		}
		if err != nil {
			yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.root, err))
			return
		}
		sort.Strings(ids)

		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			if !match.Accepts(id) {
				continue
			}
			root, err := s.read(path.Join(s.root, id))
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			if err != nil {
				yield(surge.Document{}, fmt.Errorf("failed to read %s: %w", id, err))
				return
			}
			if !yield(surge.Document{ID: id, Root: root}, nil) {
				return
			}
		}
	}
}

func (s *Source) read(docPath string) (surge.Root, error) {
	keys, _, err := s.conn.Children(docPath)
	if err != nil {
		return nil, err
	}
	root := make(surge.Root, len(keys))
	for _, key := range keys {
		data, _, err := s.conn.Get(path.Join(docPath, key))
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		root[key] = data
	}
	return root, nil
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
