// Package postgres provides surge.Store and surge.Source implementations
// backed by a PostgreSQL table with one row per document key.
//
// Expected schema (see Store.EnsureSchema):
//
//	CREATE TABLE surge_documents (
//	    document_id TEXT  NOT NULL,
//	    key         TEXT  NOT NULL,
//	    value       BYTEA NOT NULL,
//	    PRIMARY KEY (document_id, key)
//	);
package postgres

import (
	"context"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/surge"
)

// DefaultTable is the table used when WithTable is not given.
const DefaultTable = "surge_documents"

type config struct {
	table    string
	notify   string
	pageSize int
}

// Option configures a Store or Source.
type Option func(*config)

// WithTable sets the table name. Defaults to DefaultTable.
func WithTable(table string) Option {
	return func(c *config) {
		c.table = table
	}
}

// WithNotify makes every flush send pg_notify(channel, document_id) inside
// the flush transaction, so LISTEN clients observe committed batches only.
func WithNotify(channel string) Option {
	return func(c *config) {
		c.notify = channel
	}
}

// WithPageSize sets how many document IDs a Source reads per query.
// Defaults to 500.
func WithPageSize(n int) Option {
	return func(c *config) {
		c.pageSize = n
	}
}

func newConfig(opts []Option) config {
	c := config{table: DefaultTable, pageSize: 500}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) tableName() string {
	return pgx.Identifier{c.table}.Sanitize()
}

// Store upserts each batch inside a single transaction.
type Store struct {
	pool *pgxpool.Pool
	cfg  config
}

// NewStore creates a Store writing to pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	return &Store{pool: pool, cfg: newConfig(opts)}
}

// EnsureSchema creates the document table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value BYTEA NOT NULL,
		PRIMARY KEY (document_id, key)
	)`, s.cfg.tableName()))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.cfg.table, err)
	}
	return nil
}

// Flush upserts every mutation of the batch in one transaction. The
// statements are sent as a single pgx batch.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (document_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, key) DO UPDATE SET value = EXCLUDED.value`, s.cfg.tableName())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, m := range batch {
			b.Queue(upsert, id, m.Key, m.Value)
		}
		if s.cfg.notify != "" {
			b.Queue("SELECT pg_notify($1, $2)", s.cfg.notify, id)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to flush %s: %w", id, err)
	}
	return nil
}

// Source enumerates documents whose ID starts with a prefix, in ID order.
// IDs are paged with keyset pagination and each document's rows are read
// only when the enumeration reaches it.
type Source struct {
	pool   *pgxpool.Pool
	prefix string
	cfg    config
}

// NewSource creates a Source over documents whose ID starts with prefix.
// An empty prefix enumerates every document.
func NewSource(pool *pgxpool.Pool, prefix string, opts ...Option) *Source {
	return &Source{pool: pool, prefix: prefix, cfg: newConfig(opts)}
}

// Enumerate yields matching documents with their current keys.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		after := ""
		for {
			ids, err := s.page(ctx, after)
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, err)
				}
				return
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
			if len(ids) < s.cfg.pageSize {
				return
			}
			after = ids[len(ids)-1]
		}
	}
}

func (s *Source) page(ctx context.Context, after string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT document_id FROM %s
		WHERE starts_with(document_id, $1) AND document_id > $2
		ORDER BY document_id LIMIT $3`, s.cfg.tableName())
	rows, err := s.pool.Query(ctx, query, s.prefix, after, s.cfg.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return ids, nil
}

func (s *Source) root(ctx context.Context, id string) (surge.Root, error) {
	query := fmt.Sprintf("SELECT key, value FROM %s WHERE document_id = $1", s.cfg.tableName())
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	defer rows.Close()

	root := make(surge.Root)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", id, err)
		}
		root[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	return root, nil
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
