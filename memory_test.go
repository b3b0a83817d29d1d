package surge

import (
	"context"
	"testing"
)

func TestMemoryStore_FlushCreatesAndRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Flush(ctx, "doc", []Mutation{{Key: "a", Value: []byte("1")}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := store.Flush(ctx, "doc", []Mutation{{Key: "a", Value: []byte("2")}, {Key: "b", Value: []byte("3")}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	root, ok := store.Root("doc")
	if !ok {
		t.Fatal("expected document to exist")
	}
	if string(root["a"]) != "2" || string(root["b"]) != "3" {
		t.Errorf("unexpected root %v", root)
	}
	if batches := store.Batches("doc"); len(batches) != 2 || len(batches[1]) != 2 {
		t.Errorf("expected 2 recorded batches, got %v", batches)
	}
}

func TestMemoryStore_RootIsCopy(t *testing.T) {
	store := NewMemoryStore(Document{ID: "doc", Root: Root{"a": []byte("1")}})

	root, _ := store.Root("doc")
	root["a"] = []byte("changed")

	again, _ := store.Root("doc")
	if string(again["a"]) != "1" {
		t.Error("expected stored root to be unaffected by caller mutation")
	}
}

func TestMemoryStore_EnumerateSortedAndMatched(t *testing.T) {
	store := NewMemoryStore(
		Document{ID: "pixel-b"},
		Document{ID: "chat"},
		Document{ID: "pixel-a"},
	)

	var ids []string
	for doc, err := range store.Enumerate(context.Background(), HasPrefix("pixel-")) {
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) != 2 || ids[0] != "pixel-a" || ids[1] != "pixel-b" {
		t.Errorf("expected [pixel-a pixel-b], got %v", ids)
	}
}

func TestMemoryStore_EnumerateStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(Document{ID: "a"}, Document{ID: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for doc := range store.Enumerate(ctx, nil) {
		t.Errorf("expected no documents after cancel, got %s", doc.ID)
	}
}
