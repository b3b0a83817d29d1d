package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/surge"
)

func readRoot(t *testing.T, path string) surge.Root {
	t.Helper()
	root, err := newConfig(nil).read(path)
	if err != nil {
		t.Fatalf("read(%s) error = %v", path, err)
	}
	return root
}

func TestStore_FlushCreatesAndMerges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rooms")
	store := NewStore(dir)
	ctx := context.Background()

	if err := store.Flush(ctx, "pixel-1", []surge.Mutation{
		{Key: "cell:0", Value: []byte("red")},
		{Key: "cell:1", Value: []byte("blue")},
	}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := store.Flush(ctx, "pixel-1", []surge.Mutation{
		{Key: "cell:0", Value: []byte("green")},
	}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	root := readRoot(t, filepath.Join(dir, "pixel-1.json"))
	if string(root["cell:0"]) != "green" || string(root["cell:1"]) != "blue" {
		t.Errorf("unexpected root %v", root)
	}
}

func TestStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	for i := 0; i < 5; i++ {
		if err := store.Flush(context.Background(), "doc", []surge.Mutation{{Key: "k", Value: []byte{byte(i)}}}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "doc.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only doc.json, got %v", names)
	}
}

func TestStore_RejectsInvalidID(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		err := store.Flush(context.Background(), id, []surge.Mutation{{Key: "k"}})
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("Flush(%q) expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestStore_EmptyBatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	if err := NewStore(dir).Flush(context.Background(), "doc", nil); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "doc.json")); !os.IsNotExist(err) {
		t.Errorf("expected no file, got %v", err)
	}
}

func TestStore_CustomExt(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, WithExt(".doc"))
	if err := store.Flush(context.Background(), "doc", []surge.Mutation{{Key: "k", Value: []byte("v")}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var ids []string
	for doc, err := range NewSource(dir, WithExt(".doc")).Enumerate(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if string(doc.Root["k"]) != "v" {
			t.Errorf("unexpected root %v", doc.Root)
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) != 1 || ids[0] != "doc" {
		t.Errorf("expected [doc], got %v", ids)
	}
}

func TestSource_EnumeratesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	for _, id := range []string{"pixel-2", "pixel-1", "chat-1"} {
		if err := store.Flush(context.Background(), id, []surge.Mutation{{Key: "seed", Value: []byte(id)}}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for doc, err := range NewSource(dir).Enumerate(context.Background(), surge.HasPrefix("pixel-")) {
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if string(doc.Root["seed"]) != doc.ID {
			t.Errorf("%s: unexpected root %v", doc.ID, doc.Root)
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) != 2 || ids[0] != "pixel-1" || ids[1] != "pixel-2" {
		t.Errorf("expected [pixel-1 pixel-2], got %v", ids)
	}
}

func TestSource_MissingDirectory(t *testing.T) {
	var got error
	for _, err := range NewSource("/nonexistent/surge").Enumerate(context.Background(), nil) {
		got = err
	}
	if got == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSource_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got error
	for _, err := range NewSource(dir).Enumerate(context.Background(), nil) {
		got = err
	}
	if got == nil {
		t.Error("expected decode error")
	}
}

func TestFollow_YieldsNewDocuments(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Flush(ctx, "first", []surge.Mutation{{Key: "k", Value: []byte("1")}}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	ids := make(chan string, 4)
	go func() {
		defer close(ids)
		for doc, err := range NewSource(dir).Follow(done).Enumerate(ctx, nil) {
			if err != nil {
				t.Errorf("Enumerate() error = %v", err)
				return
			}
			ids <- doc.ID
		}
	}()

	if id := <-ids; id != "first" {
		t.Fatalf("expected first, got %s", id)
	}

	if err := store.Flush(ctx, "second", []surge.Mutation{{Key: "k", Value: []byte("2")}}); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-ids:
		if id != "second" {
			t.Errorf("expected second, got %s", id)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for followed document")
	}

	close(done)
	for id := range ids {
		t.Errorf("unexpected document after done: %s", id)
	}
}

func TestRun_RewritesFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Flush(context.Background(), id, []surge.Mutation{{Key: "count", Value: []byte("2")}}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := surge.New(store).Run(context.Background(), NewSource(dir),
		func(_ context.Context, task *surge.Task) error {
			var n int
			if _, err := task.Decode("count", &n); err != nil {
				return err
			}
			return task.Set("count", n*n)
		},
		surge.Config{Concurrency: 2},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Succeeded()) != 3 {
		t.Fatalf("expected 3 succeeded, got %v", result.Documents)
	}
	if root := readRoot(t, filepath.Join(dir, "c.json")); string(root["count"]) != "4" {
		t.Errorf("expected count 4, got %q", root["count"])
	}
}
