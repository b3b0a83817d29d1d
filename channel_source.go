package surge

import (
	"context"
	"iter"
)

// SliceSource yields a fixed list of documents in order.
type SliceSource []Document

// Documents creates a SliceSource from IDs, each with an empty root.
func Documents(ids ...string) SliceSource {
	docs := make(SliceSource, len(ids))
	for i, id := range ids {
		docs[i] = Document{ID: id, Root: make(Root)}
	}
	return docs
}

// Enumerate yields the documents the match accepts. Each yield carries a
// copy of the stored root, so a SliceSource can back any number of runs.
func (s SliceSource) Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, d := range s {
			if ctx.Err() != nil {
				return
			}
			if !match.Accepts(d.ID) {
				continue
			}
			if !yield(Document{ID: d.ID, Root: cloneRoot(d.Root)}, nil) {
				return
			}
		}
	}
}

// ChannelSource wraps an existing document channel as a Source.
// Useful for producers that discover documents incrementally.
// The enumeration ends when the channel is closed or the context is done.
type ChannelSource struct {
	ch <-chan Document
}

// NewChannelSource creates a ChannelSource reading from ch.
func NewChannelSource(ch <-chan Document) *ChannelSource {
	return &ChannelSource{ch: ch}
}

// Enumerate yields documents received from the channel.
func (s *ChannelSource) Enumerate(ctx context.Context, match Match) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-s.ch:
				if !ok {
					return
				}
				if !match.Accepts(d.ID) {
					continue
				}
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

// Ensure sources implement Source.
var (
	_ Source = SliceSource(nil)
	_ Source = (*ChannelSource)(nil)
)
