// Package file provides a surge.Store and surge.Source backed by a directory
// of files. Each document is one file named <id><ext> holding the encoded
// root. Flushes replace the file with an atomic rename, so readers never
// observe a partially written document.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/zoobzio/surge"
)

// DefaultExt is the file extension used for documents.
const DefaultExt = ".json"

// ErrInvalidID is returned when a document ID cannot be used as a file name.
var ErrInvalidID = errors.New("file: document id must be a plain file name")

type config struct {
	codec surge.Codec
	ext   string
	perm  fs.FileMode
}

// Option configures a Store or Source.
type Option func(*config)

// WithCodec sets the codec used to encode document roots. Defaults to
// surge.JSONCodec.
func WithCodec(codec surge.Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// WithExt sets the document file extension. Defaults to DefaultExt.
func WithExt(ext string) Option {
	return func(c *config) {
		c.ext = ext
	}
}

// WithPerm sets the permissions of files a Store creates. Defaults to 0o644.
func WithPerm(perm fs.FileMode) Option {
	return func(c *config) {
		c.perm = perm
	}
}

func newConfig(opts []Option) config {
	c := config{codec: surge.JSONCodec{}, ext: DefaultExt, perm: 0o644}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) path(dir, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(dir, id+c.ext), nil
}

func (c config) read(path string) (surge.Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	root := make(surge.Root)
	if len(data) == 0 {
		return root, nil
	}
	if err := c.codec.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return root, nil
}

// Store writes documents as files in a directory.
type Store struct {
	dir string
	cfg config

	mu sync.Mutex
}

// NewStore creates a Store writing into dir. The directory is created on the
// first flush if it does not exist.
func NewStore(dir string, opts ...Option) *Store {
	return &Store{dir: dir, cfg: newConfig(opts)}
}

// Flush merges the batch into the document's file and replaces it atomically.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	path, err := s.cfg.path(s.dir, id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.cfg.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		root = make(surge.Root)
	} else if err != nil {
		return err
	}
	root.Apply(batch)

	data, err := s.cfg.codec.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	return s.replace(path, data)
}

func (s *Store) replace(path string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".surge-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), s.cfg.perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Source enumerates the document files in a directory.
type Source struct {
	dir string
	cfg config
}

// NewSource creates a Source reading from dir.
func NewSource(dir string, opts ...Option) *Source {
	return &Source{dir: dir, cfg: newConfig(opts)}
}

// Enumerate yields the documents present in the directory, in name order.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.dir, err))
			return
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			id, ok := s.id(entry.Name())
			if !ok || entry.IsDir() || !match.Accepts(id) {
				continue
			}
			doc, ok, err := s.load(id)
			if err != nil {
				yield(surge.Document{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Follow returns a Source that yields the documents already in the directory
// and then keeps yielding documents as their files appear, until done is
// closed or the run's context ends. Each ID is yielded at most once.
func (s *Source) Follow(done <-chan struct{}) surge.Source {
	return &follower{src: s, done: done}
}

func (s *Source) id(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.cfg.ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, s.cfg.ext)
	return id, id != ""
}

// load reads a document file. A file removed since it was listed is skipped.
func (s *Source) load(id string) (surge.Document, bool, error) {
	root, err := s.cfg.read(filepath.Join(s.dir, id+s.cfg.ext))
	if errors.Is(err, fs.ErrNotExist) {
		return surge.Document{}, false, nil
	}
	if err != nil {
		return surge.Document{}, false, err
	}
	return surge.Document{ID: id, Root: root}, true, nil
}

type follower struct {
	src  *Source
	done <-chan struct{}
}

func (f *follower) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			yield(surge.Document{}, fmt.Errorf("failed to create fsnotify watcher: %w", err))
			return
		}
		defer watcher.Close()

		// Watch before listing so files created in between are not missed.
		if err := watcher.Add(f.src.dir); err != nil {
			yield(surge.Document{}, fmt.Errorf("failed to watch %s: %w", f.src.dir, err))
			return
		}

		seen := make(map[string]struct{})
		for doc, err := range f.src.Enumerate(ctx, match) {
			if err != nil {
				yield(doc, err)
				return
			}
			seen[doc.ID] = struct{}{}
			if !yield(doc, nil) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				id, ok := f.src.id(filepath.Base(event.Name))
				if !ok || !match.Accepts(id) {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				doc, ok, err := f.src.load(id)
				if err != nil || !ok {
					// Partially written files are retried on their next write event.
					continue
				}
				seen[id] = struct{}{}
				if !yield(doc, nil) {
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("watch %s: %w", f.src.dir, err))
				}
				return
			}
		}
	}
}

var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
	_ surge.Source = (*follower)(nil)
)
