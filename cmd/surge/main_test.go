package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/surge"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadPatch_YAML(t *testing.T) {
	p, err := loadPatch(writeFile(t, "patch.yaml", "color: red\nsize: 3\n"))
	if err != nil {
		t.Fatalf("loadPatch() error = %v", err)
	}
	if p["color"] != "red" || p["size"] != 3 {
		t.Errorf("unexpected patch %v", p)
	}
}

func TestLoadPatch_JSON(t *testing.T) {
	p, err := loadPatch(writeFile(t, "patch.json", `{"color": "blue"}`))
	if err != nil {
		t.Fatalf("loadPatch() error = %v", err)
	}
	if p["color"] != "blue" {
		t.Errorf("unexpected patch %v", p)
	}
}

func TestLoadPatch_Empty(t *testing.T) {
	if _, err := loadPatch(writeFile(t, "patch.json", `{}`)); err == nil {
		t.Error("expected error for empty patch")
	}
}

func TestLoadPatch_Missing(t *testing.T) {
	if _, err := loadPatch(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPatch_MutateWritesEveryKey(t *testing.T) {
	store := surge.NewMemoryStore()
	p := patch{"b": "two", "a": 1, "c": true}

	result, err := surge.New(store).Run(context.Background(), surge.Documents("x", "y"),
		p.mutate(false, 0), surge.Config{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Succeeded()) != 2 {
		t.Fatalf("expected 2 succeeded, got %v", result.Documents)
	}

	batches := store.Batches("x")
	var order []string
	for _, b := range batches {
		for _, m := range b {
			order = append(order, m.Key)
		}
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("expected sorted write order, got %v", order)
	}
	root, _ := store.Root("y")
	if string(root["b"]) != `"two"` || string(root["a"]) != "1" || string(root["c"]) != "true" {
		t.Errorf("unexpected root %v", root)
	}
}

func TestPatch_ShuffleWritesEveryKey(t *testing.T) {
	store := surge.NewMemoryStore()
	p := patch{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		p[k] = k
	}

	if _, err := surge.New(store).Run(context.Background(), surge.Documents("x"),
		p.mutate(true, 0), surge.Config{Concurrency: 1}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	root, _ := store.Root("x")
	if len(root) != 6 {
		t.Errorf("expected 6 keys, got %v", root.Keys())
	}
}

func TestPatch_DeadlineStopsPacedWrites(t *testing.T) {
	store := surge.NewMemoryStore()
	p := patch{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		p[k] = k
	}

	result, err := surge.New(store).Run(context.Background(), surge.Documents("x"),
		p.mutate(false, 50*time.Millisecond), surge.Config{Concurrency: 1, Deadline: 75 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out, _ := result.Outcome("x")
	if out.Status != surge.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}
	root, _ := store.Root("x")
	if len(root) != out.Writes || out.Writes >= 8 {
		t.Errorf("expected a persisted prefix, got %d keys for %d writes", len(root), out.Writes)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, surge.Result{
		RunID: "run-1",
		Documents: []surge.Outcome{
			{ID: "a", Status: surge.StatusSucceeded, Writes: 3},
			{ID: "b", Status: surge.StatusFailed, Writes: 1, Err: errors.New("boom")},
		},
		Skipped: []string{"a"},
	})

	out := buf.String()
	for _, want := range []string{"run run-1: 2 documents", "succeeded: 1", "failed:    1", "skipped:   1", "failed b after 1 writes: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "succeeded a") {
		t.Errorf("expected succeeded documents to be omitted, got:\n%s", out)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := open(context.Background(), target{backend: "tape"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestObserve_LogsLifecycle(t *testing.T) {
	var buf syncBuffer
	observe(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	store := surge.StoreFunc(func(_ context.Context, id string, _ []surge.Mutation) error {
		if id == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	if _, err := surge.New(store).Run(context.Background(), surge.Documents("good", "bad"),
		patch{"k": "v"}.mutate(false, 0), surge.Config{Concurrency: 2}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wants := []string{"run started", "document succeeded", "document=good", "document failed", "document=bad", "run completed"}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		missing := false
		for _, w := range wants {
			if !strings.Contains(buf.String(), w) {
				missing = true
			}
		}
		if !missing {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected log to contain %v, got:\n%s", wants, buf.String())
}
