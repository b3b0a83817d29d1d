package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zoobzio/surge"
)

// patch is a set of root keys to overwrite in every document.
type patch map[string]any

// loadPatch reads a patch from a YAML or JSON file.
func loadPatch(path string) (patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch: %w", err)
	}
	var codec surge.Codec = surge.YAMLCodec{}
	if filepath.Ext(path) == ".json" {
		codec = surge.JSONCodec{}
	}
	p := make(patch)
	if err := codec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse patch %s: %w", path, err)
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("patch %s is empty", path)
	}
	return p, nil
}

// keys returns the patch keys in sorted order.
func (p patch) keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mutate returns a MutateFunc writing every patch key with pace between
// writes. With shuffle set each document receives the keys in its own
// random order.
func (p patch) mutate(shuffle bool, pace time.Duration) surge.MutateFunc {
	ordered := p.keys()
	return func(_ context.Context, t *surge.Task) error {
		keys := ordered
		if shuffle {
			keys = append([]string(nil), ordered...)
			rand.Shuffle(len(keys), func(i, j int) {
				keys[i], keys[j] = keys[j], keys[i]
			})
		}
		for i, k := range keys {
			if err := t.Set(k, p[k]); err != nil {
				return err
			}
			if i == len(keys)-1 {
				break
			}
			if err := t.Pace(pace); err != nil {
				return err
			}
		}
		return nil
	}
}
