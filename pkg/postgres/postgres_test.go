package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/surge"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	if err := NewStore(pool).EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to setup schema: %v", err)
	}
	return pool
}

func readRoot(t *testing.T, pool *pgxpool.Pool, id string) map[string]string {
	t.Helper()
	rows, err := pool.Query(context.Background(), "SELECT key, value FROM surge_documents WHERE document_id = $1", id)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out[k] = string(v)
	}
	return out
}

func TestStore_FlushUpserts(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewStore(pool)
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

	root := readRoot(t, pool, "pixel-1")
	if root["cell:0"] != "green" || root["cell:1"] != "blue" {
		t.Errorf("unexpected root %v", root)
	}
}

func TestStore_FlushNotifiesAfterCommit(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("failed to acquire connection: %v", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN surge_flushed"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	store := NewStore(pool, WithNotify("surge_flushed"))
	if err := store.Flush(ctx, "pixel-7", []surge.Mutation{{Key: "k", Value: []byte("v")}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	notification, err := conn.Conn().WaitForNotification(waitCtx)
	if err != nil {
		t.Fatalf("timeout waiting for notification: %v", err)
	}
	if notification.Payload != "pixel-7" {
		t.Errorf("expected payload pixel-7, got %q", notification.Payload)
	}
}

func TestStore_FailedFlushRollsBack(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewStore(pool, WithTable("missing_table"))
	if err := store.Flush(ctx, "pixel-1", []surge.Mutation{{Key: "k", Value: []byte("v")}}); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestSource_PagesThroughPrefix(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewStore(pool)
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("pixel-%02d", i)
		if err := store.Flush(ctx, id, []surge.Mutation{{Key: "seed", Value: []byte(id)}}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}
	if err := store.Flush(ctx, "chat-1", []surge.Mutation{{Key: "seed", Value: []byte("x")}}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var ids []string
	for doc, err := range NewSource(pool, "pixel-", WithPageSize(3)).Enumerate(ctx, nil) {
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if string(doc.Root["seed"]) != doc.ID {
			t.Errorf("%s: unexpected root %v", doc.ID, doc.Root)
		}
		ids = append(ids, doc.ID)
	}

	if len(ids) != 7 {
		t.Fatalf("expected 7 documents, got %v", ids)
	}
	for i, id := range ids {
		if want := fmt.Sprintf("pixel-%02d", i); id != want {
			t.Errorf("expected %s at %d, got %s", want, i, id)
		}
	}
}

func TestRun_MutatesRows(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewStore(pool)
	for _, id := range []string{"room-a", "room-b"} {
		if err := store.Flush(ctx, id, []surge.Mutation{{Key: "count", Value: []byte("1")}}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	result, err := surge.New(store).Run(ctx, NewSource(pool, "room-"),
		func(_ context.Context, task *surge.Task) error {
			var n int
			if _, err := task.Decode("count", &n); err != nil {
				return err
			}
			return task.Set("count", n*10)
		},
		surge.Config{Concurrency: 2},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Succeeded()) != 2 {
		t.Fatalf("expected 2 succeeded, got %v", result.Documents)
	}
	if root := readRoot(t, pool, "room-b"); root["count"] != "10" {
		t.Errorf("expected count 10, got %q", root["count"])
	}
}
